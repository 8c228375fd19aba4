package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tabprep/internal/metrics"
	"tabprep/internal/schema"
)

const systemPrompt = "Return strict JSON only."

// Completer is a chat-completions backend.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// RoleResolver asks a model for the role of an ambiguous column. It
// implements schema.Resolver.
type RoleResolver struct {
	llm   Completer
	cache Cache
	log   *zap.Logger
}

// ResolverOption configures a RoleResolver.
type ResolverOption func(*RoleResolver)

// WithCache memoizes answers.
func WithCache(c Cache) ResolverOption {
	return func(r *RoleResolver) { r.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *RoleResolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRoleResolver builds a resolver over c.
func NewRoleResolver(c Completer, opts ...ResolverOption) *RoleResolver {
	r := &RoleResolver{llm: c, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ schema.Resolver = (*RoleResolver)(nil)

// Resolve returns the model's role and confidence, or (current, 0.5) when
// the call or the answer is unusable.
func (r *RoleResolver) Resolve(ctx context.Context, column string, p schema.Profile, current schema.Role) (schema.Role, float64) {
	key := CacheKey(column, current, p)
	if r.cache != nil {
		a, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.log.Debug("resolver cache get failed", zap.String("column", column), zap.Error(err))
		}
		if ok {
			metrics.RecordResolverCall("cached")
			return a.Role, a.Confidence
		}
	}

	text, err := r.llm.Complete(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: BuildPrompt(column, p, current)},
	})
	if err == nil {
		var role schema.Role
		var conf float64
		role, conf, err = ParseAnswer(text)
		if err == nil {
			metrics.RecordResolverCall("ok")
			if r.cache != nil {
				if err := r.cache.Set(ctx, key, Answer{Role: role, Confidence: conf}); err != nil {
					r.log.Debug("resolver cache set failed", zap.String("column", column), zap.Error(err))
				}
			}
			return role, conf
		}
	}

	metrics.RecordResolverCall("fallback")
	r.log.Warn("role resolver failed",
		zap.String("column", column),
		zap.String("current_role", string(current)),
		zap.Error(err),
	)
	return current, schema.FallbackConfidence
}

// BuildPrompt renders the question for one column.
func BuildPrompt(column string, p schema.Profile, current schema.Role) string {
	var b strings.Builder
	b.WriteString("You are a schema inference expert.\n\n")
	b.WriteString("Your job is to determine the TRUE semantic role of a dataset column.\n\n")
	fmt.Fprintf(&b, "COLUMN NAME:\n%s\n\n", column)
	fmt.Fprintf(&b, "CURRENT ROLE (rule-based guess):\n%s\n\n", current)
	b.WriteString("COLUMN STATISTICS:\n")
	fmt.Fprintf(&b, "dtype: %s\n", p.Dtype)
	fmt.Fprintf(&b, "n_unique: %d\n", p.NUnique)
	fmt.Fprintf(&b, "unique_ratio: %g\n", p.UniqueRatio)
	fmt.Fprintf(&b, "missing_ratio: %g\n", p.MissingRatio)
	fmt.Fprintf(&b, "is_numeric: %t\n", p.IsNumeric)
	fmt.Fprintf(&b, "is_integer_like: %t\n", p.IsIntegerLike)
	fmt.Fprintf(&b, "mean: %s\n", optFloat(p.Mean))
	fmt.Fprintf(&b, "std: %s\n", optFloat(p.Std))
	fmt.Fprintf(&b, "min: %v\n", optAny(p.Min))
	fmt.Fprintf(&b, "max: %v\n\n", optAny(p.Max))
	samples, _ := json.Marshal(p.Sample)
	fmt.Fprintf(&b, "SAMPLE VALUES:\n%s\n\n", samples)
	b.WriteString("Choose ONE role from this list:\n")
	for _, r := range schema.ResolvableRoles() {
		b.WriteString(string(r))
		b.WriteByte('\n')
	}
	b.WriteString("\nIMPORTANT:\nRespond ONLY JSON.\n\nFORMAT:\n")
	b.WriteString("{\n  \"role\": \"...\",\n  \"confidence\": 0.0-1.0,\n  \"reason\": \"short explanation\"\n}\n")
	return b.String()
}

func optFloat(v *float64) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprintf("%g", *v)
}

func optAny(v any) any {
	if v == nil {
		return "None"
	}
	return v
}

// ParseAnswer reads the model's JSON reply. A fenced ```json block is
// unwrapped. The role must be resolvable; confidence defaults to 0.5 and is
// clamped to [0, 1].
func ParseAnswer(text string) (schema.Role, float64, error) {
	text = stripFences(strings.TrimSpace(text))

	var ans struct {
		Role       string `json:"role"`
		Confidence any    `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &ans); err != nil {
		return "", 0, fmt.Errorf("decode answer: %w", err)
	}
	role := schema.Role(ans.Role)
	if !role.Resolvable() {
		return "", 0, fmt.Errorf("invalid role %q", ans.Role)
	}
	conf, err := parseConfidence(ans.Confidence)
	if err != nil {
		return "", 0, err
	}
	return role, min(max(conf, 0), 1), nil
}

// parseConfidence accepts a JSON number, a numeric string such as "0.9" or
// a boolean. A missing or null confidence is FallbackConfidence.
func parseConfidence(v any) (float64, error) {
	var conf float64
	switch x := v.(type) {
	case nil:
		return schema.FallbackConfidence, nil
	case float64:
		conf = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid confidence %q", x)
		}
		conf = f
	case bool:
		if x {
			conf = 1
		}
	default:
		return 0, fmt.Errorf("invalid confidence %v", v)
	}
	if math.IsNaN(conf) {
		return 0, fmt.Errorf("invalid confidence %v", v)
	}
	return conf, nil
}

func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	parts := strings.Split(text, "```")
	if len(parts) < 2 {
		return text
	}
	inner := strings.TrimSpace(parts[1])
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}
