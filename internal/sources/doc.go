// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sources manages the file roots that #file: references read from.
//
// A source is either a local folder or a Git clone. The registry is kept in
// a YAML file. Git runs as an external process behind the Runner interface
// so tests never shell out.
//
// # Key Types
//
//   - Registry: registered sources, file reads and directory listings
//   - Source: one folder or clone with id "folder_<ms>" or "repo_<ms>"
//   - Runner / ExecRunner: process execution with captured output and a timeout
//   - Git: clone and pull on top of a Runner
//
// # Security
//
// Every read is confined to its source root. ".." segments cannot climb out
// and symlinks that resolve outside the root are refused with ErrPathEscape.
// Files over the size cap (100KB by default) are refused with ErrFileTooLarge.
//
// # Usage
//
//	reg, err := sources.Open(sources.Options{Path: cfg.Sources.RegistryPath, CloneDir: cfg.Sources.CloneDir})
//	src, err := reg.AddGit(ctx, "https://github.com/user/repo.git", "", "")
//	text, err := reg.ReadFile(ctx, src.ID, "src/main.go")
package sources
