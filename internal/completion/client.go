// Package completion is the boundary to the hosted chat-completion API.
//
// A Client turns a character profile and its transcript into one
// OpenAI-compatible chat completion request (system prompt first, then the
// transcript 1:1), performs exactly one HTTP call and maps every failure onto
// the domain error taxonomy:
//
//   - HTTP 401                -> domain.KindAuthentication
//   - any other non-2xx       -> domain.KindCompletion (body message or status text)
//   - no response at all      -> domain.KindTransport
//
// Nothing is retried here; callers decide.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/persona-chat/internal/domain"
)

// InvalidKeyMessage is shown when the endpoint rejects the credential.
const InvalidKeyMessage = "invalid API key, check the completion API key configuration"

// MissingKeyMessage is shown when no credential is configured at all.
const MissingKeyMessage = "no API key configured for the completion endpoint"

var (
	completionReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_requests_total",
			Help: "Chat completion calls by outcome.",
		},
		[]string{"outcome"},
	)
	completionLat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "completion_request_duration_seconds",
			Help:    "Duration of chat completion calls in seconds.",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(completionReqs, completionLat)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string // fallback credential when no KeySource yields one
	Model       string
	Temperature float64
	MaxTokens   int
	Referer     string // sent as HTTP-Referer
	Title       string // sent as X-Title
	Timeout     time.Duration

	// Transport overrides http.DefaultTransport (tests).
	Transport http.RoundTripper
}

// KeySource resolves the bearer credential for one call.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func(ctx context.Context) (string, error)

func (f KeySourceFunc) APIKey(ctx context.Context) (string, error) { return f(ctx) }

// Client issues chat completion requests. It is safe for concurrent use.
type Client struct {
	opts Options
	keys KeySource
	http *http.Client
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

// New builds a Client from o.
func New(o Options) *Client {
	base := o.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	h := http.Header{}
	if o.Referer != "" {
		h.Set("HTTP-Referer", o.Referer)
	}
	if o.Title != "" {
		h.Set("X-Title", o.Title)
	}
	return &Client{
		opts: o,
		http: &http.Client{Transport: headerTransport{rt: base, headers: h}, Timeout: o.Timeout},
	}
}

// WithKeySource returns a copy of c that asks ks for the credential on every
// call, falling back to Options.APIKey when ks yields nothing.
func (c *Client) WithKeySource(ks KeySource) *Client {
	cp := *c
	cp.keys = ks
	return &cp
}

// SystemPrompt renders the fixed persona instruction for p.
func SystemPrompt(p domain.Profile) string {
	return fmt.Sprintf("You are %s, playing the role of %s. %s\n\n"+
		"Your goal is to provide emotional support and respond as this character.\n"+
		"Always stay in character and respond in a way that matches the description provided.\n"+
		"Be empathetic, encouraging and helpful in your responses.",
		p.Name, p.Role, p.Description)
}

// BuildMessages returns the outgoing message list: the system prompt followed
// by history in its existing order.
func BuildMessages(p domain.Profile, history []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(p)})
	for _, m := range history {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// GenerateReply asks the model to answer as p given history and returns the
// reply text (choices[0].message.content).
func (c *Client) GenerateReply(ctx context.Context, p domain.Profile, history []domain.Message) (reply string, err error) {
	tr := otel.Tracer("completion/Client")
	ctx, span := tr.Start(ctx, "completion.GenerateReply",
		trace.WithAttributes(
			attribute.String("profile.id", p.ID),
			attribute.String("llm.model", c.opts.Model),
			attribute.Int("llm.messages", len(history)+1),
		),
	)
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(domain.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		completionReqs.WithLabelValues(outcome).Inc()
		completionLat.Observe(time.Since(start).Seconds())
		span.End()
	}()

	key, err := c.resolveKey(ctx)
	if err != nil {
		return "", err
	}

	cfg := openai.DefaultConfig(key)
	if c.opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(c.opts.BaseURL, "/")
	}
	cfg.HTTPClient = c.http
	api := openai.NewClientWithConfig(cfg)

	resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    BuildMessages(p, history),
		Temperature: wireTemperature(c.opts.Temperature),
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewCompletionError(http.StatusOK, "completion endpoint returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) resolveKey(ctx context.Context) (string, error) {
	if c.keys != nil {
		k, err := c.keys.APIKey(ctx)
		if err != nil {
			return "", domain.NewStorageError("load_api_key", err)
		}
		if k = strings.TrimSpace(k); k != "" {
			return k, nil
		}
	}
	if k := strings.TrimSpace(c.opts.APIKey); k != "" {
		return k, nil
	}
	return "", domain.NewAuthenticationError(0, MissingKeyMessage)
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return domain.NewAuthenticationError(apiErr.HTTPStatusCode, InvalidKeyMessage)
		}
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = statusText(apiErr.HTTPStatusCode, apiErr.HTTPStatus)
		}
		return domain.NewCompletionError(apiErr.HTTPStatusCode, msg, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusUnauthorized {
			return domain.NewAuthenticationError(reqErr.HTTPStatusCode, InvalidKeyMessage)
		}
		msg := bodyMessage(reqErr.Body)
		if msg == "" {
			msg = statusText(reqErr.HTTPStatusCode, reqErr.HTTPStatus)
		}
		return domain.NewCompletionError(reqErr.HTTPStatusCode, msg, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.NewTransportError(err)
	}
	return domain.NewCompletionError(0, "unexpected completion failure", err)
}

// wireTemperature keeps an explicit zero on the wire. The request field is
// omitempty, so 0 would otherwise be dropped and the endpoint default used.
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// bodyMessage extracts a human readable message from an error body the SDK
// could not decode: {"error":{"message":...}}, {"error":"..."} or
// {"message":...}.
func bodyMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var eb struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &eb) != nil {
		return ""
	}
	if len(eb.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(eb.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
		var flat string
		if json.Unmarshal(eb.Error, &flat) == nil && strings.TrimSpace(flat) != "" {
			return strings.TrimSpace(flat)
		}
	}
	return strings.TrimSpace(eb.Message)
}

func statusText(code int, status string) string {
	if status = strings.TrimSpace(status); status != "" {
		return status
	}
	if t := http.StatusText(code); t != "" {
		return t
	}
	return fmt.Sprintf("HTTP %d", code)
}
