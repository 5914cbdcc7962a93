// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the rigrun-chat packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes, TruncateRunesNoEllipsis: UTF-8 safe truncation
//   - TruncateWidth, PadRight, StringWidth: terminal column aware helpers
//   - SingleLine: collapse whitespace for log previews and titles
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//
// # Usage
//
//	title := util.TruncateRunes(firstMessage, 33)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
