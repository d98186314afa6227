package permissions

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{"single", "git status", []string{"git status"}},
		{"and", "mkdir foo && cd foo", []string{"mkdir foo", "cd foo"}},
		{"or", "test -f x || touch x", []string{"test -f x", "touch x"}},
		{"semicolon", "echo hello; rm -rf /tmp/x", []string{"echo hello", "rm -rf /tmp/x"}},
		{"pipe", "cat f | grep x | wc -l", []string{"cat f", "grep x", "wc -l"}},
		{"pipe-and", "make 2>&1 |& tee log", []string{"make 2>&1", "tee log"}},
		{"background", "sleep 5 & echo done", []string{"sleep 5", "echo done"}},
		{"newline", "echo a\necho b", []string{"echo a", "echo b"}},
		{"trailing separator", "echo a;", []string{"echo a"}},
		{"quoted semicolon", `echo "a; b"`, []string{`echo "a; b"`}},
		{"single quoted pipe", `echo 'a | b'`, []string{`echo 'a | b'`}},
		{"escaped semicolon", `echo a\; b`, []string{`echo a\; b`}},
		{"stderr redirect stays", "cmd &> out.log", []string{"cmd &> out.log"}},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitCommand(tt.command)
			if err != nil {
				t.Fatalf("SplitCommand(%q) error: %v", tt.command, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitCommand(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestSplitCommandErrors(t *testing.T) {
	if _, err := SplitCommand(`echo "unterminated`); !errors.Is(err, ErrUnterminatedQuote) {
		t.Errorf("expected ErrUnterminatedQuote, got %v", err)
	}
	if _, err := SplitCommand(`echo 'open`); !errors.Is(err, ErrUnterminatedQuote) {
		t.Errorf("expected ErrUnterminatedQuote, got %v", err)
	}
	if _, err := SplitCommand(`echo trailing\`); !errors.Is(err, ErrTrailingEscape) {
		t.Errorf("expected ErrTrailingEscape, got %v", err)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		segment string
		want    []string
	}{
		{"plain", "git status --short", []string{"git", "status", "--short"}},
		{"double quotes", `git commit -m "fix bug"`, []string{"git", "commit", "-m", "fix bug"}},
		{"single quotes", `echo 'hello world'`, []string{"echo", "hello world"}},
		{"escaped space", `ls my\ file`, []string{"ls", "my file"}},
		{"adjacent quotes", `echo "a"'b'c`, []string{"echo", "abc"}},
		{"empty quoted", `run ""`, []string{"run", ""}},
		{"tabs", "a\tb", []string{"a", "b"}},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tokenize(tt.segment)
			if err != nil {
				t.Fatalf("Tokenize(%q) error: %v", tt.segment, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.segment, got, tt.want)
			}
		})
	}
}

func TestHasInjection(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"git status", false},
		{"echo $(whoami)", true},
		{"echo `whoami`", true},
		{`echo "$(whoami)"`, true},
		{"echo '$(whoami)'", false},
		{"echo '`backtick`'", false},
		{"diff <(sort a) <(sort b)", true},
		{`echo \$\(safe\)`, false},
		{"echo $HOME", false},
		{"echo hello; rm -rf /", false},
	}

	for _, tt := range tests {
		if got := HasInjection(tt.command); got != tt.want {
			t.Errorf("HasInjection(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestHasRedirection(t *testing.T) {
	tests := []struct {
		segment string
		want    bool
	}{
		{"echo hi", false},
		{"echo hi > out", true},
		{"echo hi >> out", true},
		{"cmd 2> err", true},
		{"cmd &> all", true},
		{`echo "a > b"`, false},
		{"sort < input", false},
	}

	for _, tt := range tests {
		if got := hasRedirection(tt.segment); got != tt.want {
			t.Errorf("hasRedirection(%q) = %v, want %v", tt.segment, got, tt.want)
		}
	}
}
