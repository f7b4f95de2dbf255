package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const commandHelp = "/edit ID TEXT | /delete ID | /attach ID PATH | /new USER_ID TEXT | /reload | /logout | /quit"

var errUsage = errors.New("usage")

// command is one parsed input line. Plain text becomes a "send" command.
type command struct {
	name string
	id   int64
	text string
}

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "send", text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "reload", "logout", "quit", "help":
		return command{name: name}, nil
	case "delete":
		id, err := parseID(rest)
		if err != nil {
			return command{}, fmt.Errorf("%w: /delete ID", errUsage)
		}
		return command{name: name, id: id}, nil
	case "edit", "attach", "new":
		idText, text, _ := strings.Cut(rest, " ")
		id, err := parseID(idText)
		text = strings.TrimSpace(text)
		if err != nil || text == "" {
			return command{}, fmt.Errorf("%w: %s", errUsage, usageOf(name))
		}
		return command{name: name, id: id, text: text}, nil
	default:
		return command{}, fmt.Errorf("unknown command /%s (%s)", name, commandHelp)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func usageOf(name string) string {
	switch name {
	case "edit":
		return "/edit ID TEXT"
	case "attach":
		return "/attach ID PATH"
	default:
		return "/new USER_ID TEXT"
	}
}
