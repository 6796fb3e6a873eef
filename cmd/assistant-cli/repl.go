package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"folioassist/internal/chat"
	"folioassist/internal/models"
)

const prompt = "you> "

// repl reads lines until EOF or /quit. "/N" sends the Nth suggested question
// while quick actions are still on offer.
func repl(ctx context.Context, w *chat.Widget, in io.Reader, out io.Writer) error {
	for _, msg := range w.Snapshot() {
		printMessage(out, msg)
	}
	printSuggestions(out, w)

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			printSuggestions(out, w)
			fmt.Fprint(out, prompt)
			continue
		case strings.HasPrefix(line, "/"):
			text, ok := suggestionAt(w, line[1:])
			if !ok {
				fmt.Fprintln(out, "unknown command")
				fmt.Fprint(out, prompt)
				continue
			}
			fmt.Fprintf(out, "%s%s\n", prompt, text)
			line = text
		}

		pending, err := w.TrySubmit(line)
		if err != nil {
			if errors.Is(err, chat.ErrClosed) {
				return nil
			}
			fmt.Fprint(out, prompt)
			continue
		}
		reply, err := pending.Wait(ctx)
		if err != nil {
			return err
		}
		printMessage(out, reply)
		fmt.Fprint(out, prompt)
	}
	return scanner.Err()
}

func suggestionAt(w *chat.Widget, raw string) (string, bool) {
	if !w.ShowSuggestions() {
		return "", false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", false
	}
	s := w.Suggestions()
	if n < 1 || n > len(s) {
		return "", false
	}
	return s[n-1], true
}

func printSuggestions(out io.Writer, w *chat.Widget) {
	if !w.ShowSuggestions() {
		return
	}
	s := w.Suggestions()
	if len(s) == 0 {
		return
	}
	fmt.Fprintln(out, "Quick questions:")
	for i, q := range s {
		fmt.Fprintf(out, "  /%d  %s\n", i+1, q)
	}
}

func printMessage(out io.Writer, msg models.Message) {
	if msg.Role == models.RoleUser {
		return
	}
	fmt.Fprintf(out, "assistant> %s\n", msg.Content)
}
