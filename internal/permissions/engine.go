package permissions

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/praxis/internal/observability"
)

// Request describes one tool invocation to be checked.
type Request struct {
	// Tool is the name used in approval keys and denial messages.
	Tool string
	// Key overrides the approval key for non-shell tools. Empty means the
	// bare tool name.
	Key string
	// Command is the shell command text for prefix-capable tools.
	Command string
	// PrefixCapable marks tools whose approvals can be scoped to a command
	// prefix. Only the shell tool sets this.
	PrefixCapable bool
	// SessionOnly marks tools whose approvals must never persist to disk.
	// File-editing tools set this.
	SessionOnly bool
}

// Decision is the outcome of an automatic permission check. When Allowed is
// false, Key carries the exact approval that would cover the request and
// PrefixKey, when non-empty, a broader prefix approval a prompt may offer.
type Decision struct {
	Allowed   bool
	Reason    string
	Key       string
	PrefixKey string
}

// Engine evaluates permission requests against the approval store, the safe
// list and the command classifier. It never prompts; interactive flows wrap
// it.
type Engine struct {
	store      *Store
	safe       *SafeList
	classifier Classifier
	log        *observability.Logger
}

// NewEngine wires an engine. A nil classifier falls back to the syntactic
// one and a nil safe list to the defaults.
func NewEngine(store *Store, safe *SafeList, classifier Classifier, log *observability.Logger) *Engine {
	if safe == nil {
		safe = NewSafeList()
	}
	if classifier == nil {
		classifier = SyntacticClassifier{}
	}
	if log == nil {
		log = observability.Discard()
	}
	return &Engine{store: store, safe: safe, classifier: classifier, log: log}
}

// Store exposes the underlying approval store for management commands.
func (e *Engine) Store() *Store { return e.store }

// Check decides whether the request is already approved. The returned error
// is non-nil only when ctx was canceled mid-check; every other failure
// denies.
func (e *Engine) Check(ctx context.Context, req Request) (Decision, error) {
	if req.PrefixCapable && req.Command != "" {
		d, err := e.checkCommand(ctx, req)
		if err != nil {
			return Decision{}, err
		}
		e.log.Debug(ctx, "permission decision",
			"tool", req.Tool, "allowed", d.Allowed, "key", d.Key)
		return d, nil
	}

	key := req.Key
	if key == "" {
		key = ToolKey(req.Tool)
	}
	if e.store.IsApproved(key) {
		return Decision{Allowed: true, Key: key}, nil
	}
	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("%s has not been approved", req.Tool),
		Key:     key,
	}, nil
}

// checkCommand implements the shell decision order: safe list and exact
// approvals first, then classification, with prefix matching disabled when
// injection is suspected. Compound commands approve only when every
// sub-command is individually covered.
func (e *Engine) checkCommand(ctx context.Context, req Request) (Decision, error) {
	command := strings.TrimSpace(req.Command)
	exact := ExactKey(req.Tool, command)

	if e.safe.Allows(command) {
		return Decision{Allowed: true, Key: exact}, nil
	}
	if e.store.IsApproved(exact) {
		return Decision{Allowed: true, Key: exact}, nil
	}

	cls, err := e.classifier.Classify(ctx, command)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		// Unanalyzable commands are denied, never guessed at.
		e.log.Warn(ctx, "command classification failed",
			"tool", req.Tool, "error", err)
		return Decision{
			Allowed: false,
			Reason:  "the command could not be analyzed",
			Key:     exact,
		}, nil
	}

	if cls.Injection {
		return Decision{
			Allowed: false,
			Reason:  "the command may contain command injection; approve the exact command to proceed",
			Key:     exact,
		}, nil
	}

	if len(cls.Segments) == 0 {
		return Decision{
			Allowed: false,
			Reason:  "the command is empty",
			Key:     exact,
		}, nil
	}

	if len(cls.Segments) == 1 {
		seg := cls.Segments[0]
		if seg.Prefix != "" && e.store.IsApproved(PrefixKey(req.Tool, seg.Prefix)) {
			return Decision{Allowed: true, Key: PrefixKey(req.Tool, seg.Prefix)}, nil
		}
		d := Decision{
			Allowed: false,
			Reason:  "the command has not been approved",
			Key:     exact,
		}
		if seg.Prefix != "" {
			d.PrefixKey = PrefixKey(req.Tool, seg.Prefix)
		}
		return d, nil
	}

	// Every sub-command must be covered; one unknown denies the whole
	// command.
	for _, seg := range cls.Segments {
		if e.segmentApproved(req.Tool, seg) {
			continue
		}
		d := Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("sub-command %q has not been approved", seg.Command),
			Key:     exact,
		}
		if cls.Prefix != "" {
			d.PrefixKey = PrefixKey(req.Tool, cls.Prefix)
		}
		return d, nil
	}
	return Decision{Allowed: true, Key: exact}, nil
}

func (e *Engine) segmentApproved(tool string, seg Segment) bool {
	if e.safe.Allows(seg.Command) {
		return true
	}
	if e.store.IsApproved(ExactKey(tool, seg.Command)) {
		return true
	}
	return seg.Prefix != "" && e.store.IsApproved(PrefixKey(tool, seg.Prefix))
}

// Grant records an approval. Session-only requests never persist regardless
// of the requested scope.
func (e *Engine) Grant(req Request, key string, persist bool) error {
	return e.store.Approve(key, persist && !req.SessionOnly)
}
