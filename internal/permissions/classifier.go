package permissions

import (
	"context"
	"strings"
)

// Segment is one sub-command of a compound shell command together with the
// leading subcommand derived for it. An empty Prefix means none could be
// derived and only an exact approval can cover the segment.
type Segment struct {
	Command string
	Prefix  string
}

// Classification is the analysis of a shell command used for prefix
// matching. Prefix is the top-level candidate for the whole command; it is
// empty for compounds whose segments disagree. Injection set means the
// command may smuggle a second command past prefix matching, so only an
// exact full-command approval counts.
type Classification struct {
	Prefix    string
	Segments  []Segment
	Injection bool
}

// Classifier analyzes a shell command for permission checks. A returned
// error means the command could not be analyzed; callers treat that as a
// denial unless ctx was canceled.
type Classifier interface {
	Classify(ctx context.Context, command string) (*Classification, error)
}

// SyntacticClassifier derives prefixes from command text alone, with no
// model call. It is the default classifier.
type SyntacticClassifier struct{}

func (SyntacticClassifier) Classify(ctx context.Context, command string) (*Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parts, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}

	cls := &Classification{Injection: HasInjection(command)}
	for _, part := range parts {
		prefix, err := segmentPrefix(part)
		if err != nil {
			return nil, err
		}
		cls.Segments = append(cls.Segments, Segment{Command: part, Prefix: prefix})
	}

	cls.Prefix = commonPrefix(cls.Segments)
	return cls, nil
}

// wrapperCommands run another command given in their arguments, so the real
// prefix lies past them.
var wrapperCommands = map[string]bool{
	"env":     true,
	"time":    true,
	"nice":    true,
	"nohup":   true,
	"command": true,
}

// opaqueCommands take arbitrary code or escalate privileges; a prefix
// approval for them would approve anything.
var opaqueCommands = map[string]bool{
	"sh":     true,
	"bash":   true,
	"zsh":    true,
	"dash":   true,
	"ksh":    true,
	"eval":   true,
	"exec":   true,
	"source": true,
	".":      true,
	"sudo":   true,
	"doas":   true,
	"xargs":  true,
	"watch":  true,
}

func segmentPrefix(segment string) (string, error) {
	if hasRedirection(segment) {
		return "", nil
	}

	tokens, err := Tokenize(segment)
	if err != nil {
		return "", err
	}

	for len(tokens) > 0 {
		word := tokens[0]
		switch {
		case isAssignment(word):
			tokens = tokens[1:]
		case wrapperCommands[word]:
			tokens = tokens[1:]
		default:
			if opaqueCommands[word] || strings.ContainsRune(word, '/') {
				return "", nil
			}
			return word, nil
		}
	}
	return "", nil
}

// isAssignment matches leading VAR=value environment words.
func isAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	for _, c := range word[:eq] {
		if c != '_' && (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func commonPrefix(segments []Segment) string {
	if len(segments) == 0 {
		return ""
	}
	prefix := segments[0].Prefix
	for _, seg := range segments[1:] {
		if seg.Prefix != prefix {
			return ""
		}
	}
	return prefix
}
