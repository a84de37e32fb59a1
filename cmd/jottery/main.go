// Command jottery is a minimal terminal driver over the client core:
// enough surface to initialize a store, take notes, and sync, without
// the full TUI shell.
// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/seesee/jottery/jotsqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath   = flag.String("db", defaultDBPath(), "path to the local store")
		verbose  = flag.Bool("v", false, "debug logging")
		endpoint = flag.String("endpoint", "", "sync server base URL (register command)")
		device   = flag.String("device", hostname(), "device name (register command)")
	)
	flag.Parse()
	args := flag.Args()
	// Flags may also follow the command, as in "register -endpoint URL".
	if len(args) > 1 {
		if err := flag.CommandLine.Parse(args[1:]); err != nil {
			return err
		}
		args = append([]string{args[0]}, flag.Args()...)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if len(args) == 0 {
		usage()
		return nil
	}

	ctx := context.Background()
	if dir := filepath.Dir(*dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	vault, err := jotsqlite.Open(*dbPath, logger)
	if err != nil {
		return err
	}
	defer vault.Close()

	switch args[0] {
	case "init":
		password, err := readPassword("Choose a password: ")
		if err != nil {
			return err
		}
		return vault.Initialize(ctx, password)

	case "add":
		if err := unlock(ctx, vault); err != nil {
			return err
		}
		content := strings.Join(args[1:], " ")
		if content == "" {
			content, err = readLine("Note content: ")
			if err != nil {
				return err
			}
		}
		note, err := vault.Notes.Create(ctx, jotsqlite.CreateNoteInput{Content: content})
		if err != nil {
			return err
		}
		fmt.Println(note.ID)
		return nil

	case "list":
		if err := unlock(ctx, vault); err != nil {
			return err
		}
		notes, err := vault.Notes.List(ctx, jotsqlite.ListOptions{})
		if err != nil {
			return err
		}
		for _, n := range notes {
			pin := " "
			if n.Pinned {
				pin = "*"
			}
			fmt.Printf("%s %s  %s  %s\n", pin, n.ID, n.ModifiedAt.Local().Format("2006-01-02 15:04"), n.FirstLine())
		}
		return nil

	case "register":
		if *endpoint == "" {
			return fmt.Errorf("register requires -endpoint")
		}
		if err := unlock(ctx, vault); err != nil {
			return err
		}
		apiKey, err := vault.Sync.Register(ctx, *endpoint, *device, "cli")
		if err != nil {
			return err
		}
		fmt.Println("API key (shown once, store it safely):")
		fmt.Println(apiKey)
		return nil

	case "sync":
		if err := unlock(ctx, vault); err != nil {
			return err
		}
		result, err := vault.Sync.SyncNow(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pushed %d, rejected %d, pulled %d, deletions %d\n",
			result.Pushed, result.Rejected, result.Pulled, result.Deletions)
		return nil

	case "export-credentials":
		if err := unlock(ctx, vault); err != nil {
			return err
		}
		payload, err := vault.Sync.ExportCredentials(ctx)
		if err != nil {
			return err
		}
		fmt.Println(payload)
		return nil

	case "import-credentials":
		if len(args) < 2 {
			return fmt.Errorf("import-credentials requires the payload argument")
		}
		count, err := vault.Store.Notes().CountActive(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			fmt.Fprintln(os.Stderr, "warning: importing credentials into a non-empty store")
		}
		if err := vault.Sync.ImportCredentials(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("credentials imported; unlock with the originating password to finish")
		return nil

	case "gc":
		if err := unlock(ctx, vault); err != nil {
			return err
		}
		purged, err := vault.Notes.PurgeOld(ctx, 0)
		if err != nil {
			return err
		}
		orphans, err := vault.Notes.PurgeOrphanBlobs(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d notes, %d orphan blobs\n", purged, orphans)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func unlock(ctx context.Context, vault *jotsqlite.Vault) error {
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	return vault.Unlock(ctx, password)
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "jottery-client.db"
	}
	return filepath.Join(home, ".jottery", "jottery.db")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "cli"
	}
	return h
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: jottery [flags] <command>

commands:
  init                         first-time setup
  add [text]                   create a note
  list                         list active notes
  register -endpoint URL       register with a sync server
  sync                         push and pull now
  export-credentials           print the cross-device payload
  import-credentials <payload> seed this device from another
  gc                           purge old deleted notes and orphan blobs`)
}
