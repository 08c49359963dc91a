package provider

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// Scripted is a deterministic CompletionProvider for tests and local
// development. Responses are looked up by substring match against the last
// user message; unmatched requests echo the input. Embeddings are a stable
// hash projection, so identical text always embeds identically.
type Scripted struct {
	mu        sync.Mutex
	responses map[string]string
	calls     int
	failWith  error
}

// NewScripted creates a scripted provider.
func NewScripted() *Scripted {
	return &Scripted{responses: make(map[string]string)}
}

// Respond registers a canned response for requests whose last user message
// contains match.
func (p *Scripted) Respond(match, response string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[match] = response
}

// FailWith makes every subsequent call return err. Pass nil to clear.
func (p *Scripted) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Calls returns how many completion calls were made.
func (p *Scripted) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Complete implements CompletionProvider.
func (p *Scripted) Complete(ctx context.Context, req *Request) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls++
	failWith := p.failWith
	last := lastUserMessage(req.Messages)
	text := last
	for match, resp := range p.responses {
		if strings.Contains(last, match) {
			text = resp
			break
		}
	}
	p.mu.Unlock()
	if failWith != nil {
		return nil, failWith
	}
	promptTokens := approxTokens(last)
	completionTokens := approxTokens(text)
	return &Completion{
		Text: text,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// Stream implements CompletionProvider by chunking the scripted response on
// word boundaries.
func (p *Scripted) Stream(ctx context.Context, req *Request, fn func(Chunk)) (*Completion, error) {
	c, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(c.Text)
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sep := " "
		if i == len(words)-1 {
			sep = ""
		}
		fn(Chunk{Text: w + sep})
	}
	fn(Chunk{Done: true})
	return c, nil
}

// Embed implements Embedder with a stable 32-dimensional hash projection.
func (p *Scripted) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, 32)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%32]++
	}
	return vec, nil
}

func lastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	if len(msgs) > 0 {
		return msgs[len(msgs)-1].Content
	}
	return ""
}

func approxTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
