package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedToken is returned when a serialized trace cannot be parsed.
var ErrMalformedToken = errors.New("malformed trace token")

const (
	trueToken  = "True"
	falseToken = "False"
)

// Token serializes the step.
//
// Formats:
//
//	[7,12]      actor 7 scheduled at step 12
//	True/False  boolean choice
//	42          integer choice
//	site:True   fair choice at site
func (s *Step) Token() string {
	switch s.Kind {
	case SchedulingChoice:
		return fmt.Sprintf("[%d,%d]", s.Actor, s.Index)
	case BooleanChoice:
		return boolToken(s.Bool)
	case IntegerChoice:
		return strconv.Itoa(s.Int)
	case FairChoice:
		return s.FairID + ":" + boolToken(s.Bool)
	default:
		return ""
	}
}

// Tokens serializes the whole trace, one token per step.
func (t *Trace) Tokens() []string {
	out := make([]string, len(t.steps))
	for i, s := range t.steps {
		out[i] = s.Token()
	}
	return out
}

// Parse rebuilds a trace from its tokens.
func Parse(tokens []string) (*Trace, error) {
	t := New()
	for i, tok := range tokens {
		if err := t.appendToken(strings.TrimSpace(tok)); err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
	}
	return t, nil
}

func (t *Trace) appendToken(tok string) error {
	switch {
	case tok == trueToken:
		t.AddBooleanChoice(true)
	case tok == falseToken:
		t.AddBooleanChoice(false)
	case strings.HasPrefix(tok, "["):
		if !strings.HasSuffix(tok, "]") {
			return fmt.Errorf("%w: %q", ErrMalformedToken, tok)
		}
		parts := strings.Split(tok[1:len(tok)-1], ",")
		if len(parts) != 2 {
			return fmt.Errorf("%w: %q", ErrMalformedToken, tok)
		}
		actor, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMalformedToken, tok, err)
		}
		index, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMalformedToken, tok, err)
		}
		if index != t.Len() {
			return fmt.Errorf("%w: %q recorded at index %d, expected %d", ErrMalformedToken, tok, index, t.Len())
		}
		t.AddSchedulingChoice(actor)
	case strings.HasSuffix(tok, ":"+trueToken) || strings.HasSuffix(tok, ":"+falseToken):
		sep := strings.LastIndex(tok, ":")
		if sep == 0 {
			return fmt.Errorf("%w: %q: empty choice site", ErrMalformedToken, tok)
		}
		t.AddFairChoice(tok[:sep], tok[sep+1:] == trueToken)
	default:
		v, err := strconv.Atoi(tok)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrMalformedToken, tok)
		}
		t.AddIntegerChoice(v)
	}
	return nil
}

// Write writes the trace to w, one token per line.
func Write(w io.Writer, t *Trace) error {
	bw := bufio.NewWriter(w)
	for _, s := range t.steps {
		if _, err := bw.WriteString(s.Token() + "\n"); err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
	}
	return bw.Flush()
}

// Read parses a trace written by Write. Blank lines are skipped.
func Read(r io.Reader) (*Trace, error) {
	var tokens []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	return Parse(tokens)
}

func boolToken(v bool) string {
	if v {
		return trueToken
	}
	return falseToken
}
