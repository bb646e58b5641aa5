package steps

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/buildkite/shellwords"
)

// Command is one discrete invocation of a container script.
type Command struct {
	Line int      // first script line of the command, 1-based
	Text string   // passed to sh -c
	Args []string // shell words of Text, nil for a whole script
}

// reservedWords start or continue compound commands that span commands.
var reservedWords = map[string]bool{
	"if": true, "then": true, "elif": true, "else": true, "fi": true,
	"for": true, "while": true, "until": true, "do": true, "done": true,
	"case": true, "esac": true, "select": true, "function": true,
	"{": true, "}": true,
}

// stateBuiltins change the shell for the commands that follow them.
var stateBuiltins = map[string]bool{
	"cd": true, "pushd": true, "popd": true, "export": true, "unset": true,
	"set": true, "source": true, ".": true, "alias": true, "unalias": true,
	"umask": true, "readonly": true, "local": true, "declare": true,
	"typeset": true, "shopt": true, "trap": true, "eval": true, "exec": true,
	"ulimit": true, "shift": true, "read": true,
}

var assignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// ParseScript splits a shell script into the commands it runs in order.
// Lines and top-level && chains become separate commands so every exit
// code is observed. Backslash continuations and a trailing && join lines;
// blank lines and # comments are skipped.
//
// Commands only run separately when they stand alone. A script using
// control flow, subshells, command substitution or heredocs, or one that
// changes shell state (cd, export, variable assignments) is returned as a
// single command spanning the whole script.
func ParseScript(script string) ([]Command, error) {
	segments, oneShell, err := scanScript(script)
	if err != nil {
		return nil, err
	}
	if oneShell {
		return wholeScript(script)
	}

	var commands []Command
	for _, seg := range segments {
		args, err := shellwords.Split(seg.text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", seg.line, err)
		}
		if len(args) == 0 {
			continue
		}
		if sharesShell(args) {
			return wholeScript(script)
		}
		commands = append(commands, Command{Line: seg.line, Text: seg.text, Args: args})
	}

	if len(commands) == 0 {
		return nil, errors.New("script has no commands")
	}
	return commands, nil
}

// wholeScript returns script as one command starting at its first
// non-blank line.
func wholeScript(script string) ([]Command, error) {
	for i, l := range strings.Split(script, "\n") {
		if strings.TrimSpace(l) != "" {
			return []Command{{Line: i + 1, Text: strings.TrimSpace(script)}}, nil
		}
	}
	return nil, errors.New("script has no commands")
}

type segment struct {
	line int
	text string
}

// scanScript cuts script at unquoted newlines and && operators. It stops
// early and reports oneShell when it meets syntax whose commands cannot be
// run separately.
func scanScript(script string) (segments []segment, oneShell bool, err error) {
	var (
		current           strings.Builder
		inSingle, inDbl   bool
		escaped, afterAnd bool
		andLine           int
	)
	line, start := 1, 1

	cut := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			segments = append(segments, segment{line: start, text: text})
			afterAnd = false
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		next := byte(0)
		if i+1 < len(script) {
			next = script[i+1]
		}
		if strings.TrimSpace(current.String()) == "" && c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			start = line
		}

		switch {
		case escaped:
			escaped = false
			if c == '\n' {
				s := strings.TrimSuffix(current.String(), `\`)
				current.Reset()
				current.WriteString(s + " ")
				line++
				continue
			}
			current.WriteByte(c)
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
			current.WriteByte(c)
		case c == '\\':
			escaped = true
			current.WriteByte(c)
		case inDbl:
			if c == '"' {
				inDbl = false
			}
			if c == '`' || (c == '$' && next == '(') {
				return nil, true, nil
			}
			current.WriteByte(c)
		case c == '\'':
			inSingle = true
			current.WriteByte(c)
		case c == '"':
			inDbl = true
			current.WriteByte(c)
		case c == '`', c == '(', c == ')', c == '<' && next == '<':
			return nil, true, nil
		case c == '#' && endsWord(current.String()):
			for i+1 < len(script) && script[i+1] != '\n' {
				i++
			}
		case c == '&' && next == '&':
			if strings.TrimSpace(current.String()) == "" {
				return nil, false, fmt.Errorf("line %d: missing command before &&", line)
			}
			cut()
			afterAnd, andLine = true, line
			i++
		case c == '\n':
			if !afterAnd || strings.TrimSpace(current.String()) != "" {
				cut()
			}
		default:
			current.WriteByte(c)
		}

		if c == '\n' {
			line++
		}
	}

	if inSingle || inDbl {
		return nil, false, fmt.Errorf("line %d: unterminated quote", start)
	}
	cut()
	if afterAnd {
		return nil, false, fmt.Errorf("line %d: missing command after &&", andLine)
	}
	return segments, false, nil
}

func endsWord(s string) bool {
	return s == "" || strings.HasSuffix(s, " ") || strings.HasSuffix(s, "\t")
}

// sharesShell reports whether the simple commands in args use compound
// syntax or change state later commands would depend on.
func sharesShell(args []string) bool {
	for _, cmd := range simpleCommands(args) {
		for _, w := range cmd {
			if reservedWords[w] {
				return true
			}
		}

		i := 0
		for i < len(cmd) && assignment.MatchString(cmd[i]) {
			i++
		}
		if i == len(cmd) || stateBuiltins[cmd[i]] {
			return true
		}
	}
	return false
}

// simpleCommands groups shell words into the simple commands they form,
// cutting at ; | and & separators.
func simpleCommands(args []string) [][]string {
	var (
		commands [][]string
		current  []string
	)
	for _, arg := range args {
		for {
			i := strings.IndexAny(arg, ";|&")
			if i < 0 {
				break
			}
			if i > 0 {
				current = append(current, arg[:i])
			}
			if len(current) > 0 {
				commands = append(commands, current)
				current = nil
			}
			arg = arg[i+1:]
		}
		if arg != "" {
			current = append(current, arg)
		}
	}
	if len(current) > 0 {
		commands = append(commands, current)
	}
	return commands
}
