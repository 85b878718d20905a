// Package tgui provides small Telegram UI helpers:
//   - MarkdownV2 escaping with selectable rule versions
//   - Inline formatting builders (bold, code) that escape their input
//   - Inline keyboards and "scope:action:payload" callback data
//   - List pagination
//   - Rune-safe truncation for user-supplied text
package tgui
