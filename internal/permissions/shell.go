package permissions

import (
	"errors"
	"strings"
)

var (
	// ErrUnterminatedQuote is returned for commands with an open quote.
	ErrUnterminatedQuote = errors.New("unterminated quote in command")
	// ErrTrailingEscape is returned for commands ending in a bare backslash.
	ErrTrailingEscape = errors.New("trailing escape in command")
)

// SplitCommand divides a shell command into its sub-commands at top-level
// control operators (;, &&, ||, |, |&, & and newlines). Operators inside
// quotes are literal text and do not split. Empty segments are dropped, so
// "a && b" and "a; b;" both yield two sub-commands.
func SplitCommand(command string) ([]string, error) {
	var (
		segments []string
		current  strings.Builder
		inSingle bool
		inDouble bool
	)

	flush := func() {
		seg := strings.TrimSpace(current.String())
		if seg != "" {
			segments = append(segments, seg)
		}
		current.Reset()
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '\\' && !inSingle {
			if i+1 >= len(runes) {
				return nil, ErrTrailingEscape
			}
			current.WriteRune(c)
			current.WriteRune(runes[i+1])
			i++
			continue
		}

		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			current.WriteRune(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			current.WriteRune(c)
		case inSingle || inDouble:
			current.WriteRune(c)
		case c == ';' || c == '\n':
			flush()
		case c == '&':
			// "&>", ">&" and "<&" are redirections, not separators.
			if i+1 < len(runes) && runes[i+1] == '>' {
				current.WriteRune(c)
				continue
			}
			if s := current.String(); strings.HasSuffix(s, ">") || strings.HasSuffix(s, "<") {
				current.WriteRune(c)
				continue
			}
			if i+1 < len(runes) && runes[i+1] == '&' {
				i++
			}
			flush()
		case c == '|':
			// "|", "||" and "|&" are all separators.
			if i+1 < len(runes) && (runes[i+1] == '|' || runes[i+1] == '&') {
				i++
			}
			flush()
		default:
			current.WriteRune(c)
		}
	}

	if inSingle || inDouble {
		return nil, ErrUnterminatedQuote
	}
	flush()
	return segments, nil
}

// Tokenize splits one sub-command into words, honoring quotes and escapes.
// Quote characters are dropped from the returned tokens, so `git commit -m
// "fix bug"` tokenizes to ["git", "commit", "-m", "fix bug"].
func Tokenize(segment string) ([]string, error) {
	var (
		tokens   []string
		current  strings.Builder
		inToken  bool
		inSingle bool
		inDouble bool
	)

	flush := func() {
		if inToken {
			tokens = append(tokens, current.String())
			current.Reset()
			inToken = false
		}
	}

	runes := []rune(segment)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '\\' && !inSingle {
			if i+1 >= len(runes) {
				return nil, ErrTrailingEscape
			}
			current.WriteRune(runes[i+1])
			inToken = true
			i++
			continue
		}

		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			inToken = true
		case c == '"' && !inSingle:
			inDouble = !inDouble
			inToken = true
		case (c == ' ' || c == '\t') && !inSingle && !inDouble:
			flush()
		default:
			current.WriteRune(c)
			inToken = true
		}
	}

	if inSingle || inDouble {
		return nil, ErrUnterminatedQuote
	}
	flush()
	return tokens, nil
}

// HasInjection reports whether a command contains constructs that can smuggle
// a second command past prefix matching: command substitution, backticks or
// process substitution outside quoted text. Single quotes neutralize
// everything; double quotes still expand $(...) and backticks.
func HasInjection(command string) bool {
	var inSingle, inDouble bool

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '\\' && !inSingle {
			i++
			continue
		}

		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle:
		case c == '`':
			return true
		case c == '$' && i+1 < len(runes) && runes[i+1] == '(':
			return true
		case inDouble:
		case (c == '<' || c == '>') && i+1 < len(runes) && runes[i+1] == '(':
			return true
		}
	}
	return false
}

// hasRedirection reports whether a sub-command writes through an output
// redirection outside quotes. Input redirection is left alone; it cannot
// create or clobber files.
func hasRedirection(segment string) bool {
	var inSingle, inDouble bool

	runes := []rune(segment)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c == '\\' && !inSingle {
			i++
			continue
		}

		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
		case c == '>':
			return true
		}
	}
	return false
}
