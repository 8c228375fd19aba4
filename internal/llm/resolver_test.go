package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"tabprep/internal/schema"
)

type fakeCompleter struct {
	out   string
	err   error
	calls int
	last  []Message
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []Message) (string, error) {
	f.calls++
	f.last = msgs
	return f.out, f.err
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		role    schema.Role
		conf    float64
		wantErr bool
	}{
		{name: "plain", in: `{"role":"categorical_ordinal","confidence":0.9,"reason":"grades"}`, role: schema.CategoricalOrdinal, conf: 0.9},
		{name: "fenced", in: "```json\n{\"role\": \"identifier\", \"confidence\": 0.95}\n```", role: schema.Identifier, conf: 0.95},
		{name: "bare_fence", in: "sure:\n```\n{\"role\": \"datetime\"}\n```", role: schema.Datetime, conf: 0.5},
		{name: "clamped_high", in: `{"role":"unknown","confidence":7}`, role: schema.Unknown, conf: 1},
		{name: "clamped_low", in: `{"role":"unknown","confidence":-2}`, role: schema.Unknown, conf: 0},
		{name: "string_confidence", in: `{"role":"identifier","confidence":"0.9"}`, role: schema.Identifier, conf: 0.9},
		{name: "padded_string_confidence", in: `{"role":"identifier","confidence":" 0.75 "}`, role: schema.Identifier, conf: 0.75},
		{name: "null_confidence", in: `{"role":"identifier","confidence":null}`, role: schema.Identifier, conf: 0.5},
		{name: "bool_confidence", in: `{"role":"identifier","confidence":true}`, role: schema.Identifier, conf: 1},
		{name: "word_confidence", in: `{"role":"identifier","confidence":"high"}`, wantErr: true},
		{name: "target_rejected", in: `{"role":"target","confidence":0.9}`, wantErr: true},
		{name: "invented_role", in: `{"role":"money","confidence":0.9}`, wantErr: true},
		{name: "not_json", in: `categorical`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			role, conf, err := ParseAnswer(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseAnswer(%q) err=nil", tc.in)
				}
				return
			}
			if err != nil || role != tc.role || conf != tc.conf {
				t.Fatalf("got=%s/%v err=%v want=%s/%v", role, conf, err, tc.role, tc.conf)
			}
		})
	}
}

func TestBuildPromptListsRoles(t *testing.T) {
	mean := 2.5
	p := schema.Profile{Dtype: "int64", NUnique: 4, Mean: &mean, Sample: []string{"1", "2"}}
	prompt := BuildPrompt("grade", p, schema.NumericDiscrete)
	for _, want := range []string{"COLUMN NAME:\ngrade", "numeric_discrete", "mean: 2.5", "std: None", `["1","2"]`, "text_freeform"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "\ntarget\n") {
		t.Fatalf("prompt offers target role")
	}
}

func TestResolverFallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{name: "transport", fc: &fakeCompleter{err: errors.New("dial tcp: refused")}},
		{name: "bad_answer", fc: &fakeCompleter{out: "I think it is a category"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			role, conf := NewRoleResolver(tc.fc).Resolve(context.Background(), "city", schema.Profile{}, schema.CategoricalNominal)
			if role != schema.CategoricalNominal || conf != 0.5 {
				t.Fatalf("got=%s/%v want categorical_nominal/0.5", role, conf)
			}
		})
	}
}

func TestResolverCachesAnswers(t *testing.T) {
	fc := &fakeCompleter{out: `{"role":"categorical_ordinal","confidence":0.92}`}
	r := NewRoleResolver(fc, WithCache(NewMemoryCache()))
	p := schema.Profile{Name: "size", NUnique: 3}

	for i := 0; i < 2; i++ {
		role, conf := r.Resolve(context.Background(), "size", p, schema.CategoricalNominal)
		if role != schema.CategoricalOrdinal || conf != 0.92 {
			t.Fatalf("call %d got=%s/%v", i, role, conf)
		}
	}
	if fc.calls != 1 {
		t.Fatalf("completer calls=%d want 1", fc.calls)
	}
	if fc.last[0].Role != "system" || fc.last[1].Role != "user" {
		t.Fatalf("messages=%+v", fc.last)
	}

	// A different profile is a different key.
	p.NUnique = 4
	r.Resolve(context.Background(), "size", p, schema.CategoricalNominal)
	if fc.calls != 2 {
		t.Fatalf("completer calls=%d want 2", fc.calls)
	}
}

func TestResolverDoesNotCacheFallback(t *testing.T) {
	cache := NewMemoryCache()
	r := NewRoleResolver(&fakeCompleter{err: errors.New("down")}, WithCache(cache))
	r.Resolve(context.Background(), "c", schema.Profile{}, schema.Unknown)
	if len(cache.m) != 0 {
		t.Fatalf("fallback answer cached")
	}
}

type fakeRedis struct {
	data map[string]string
	ttl  time.Duration
	err  error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisCache(t *testing.T) {
	fr := &fakeRedis{data: map[string]string{}}
	c := &RedisCache{rdb: fr, ttl: time.Hour}
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("miss ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "k", Answer{Role: schema.Identifier, Confidence: 0.9}); err != nil {
		t.Fatalf("Set err=%v", err)
	}
	if _, stored := fr.data["tabprep:role:k"]; !stored || fr.ttl != time.Hour {
		t.Fatalf("data=%v ttl=%v", fr.data, fr.ttl)
	}
	a, ok, err := c.Get(ctx, "k")
	if !ok || err != nil || a.Role != schema.Identifier || a.Confidence != 0.9 {
		t.Fatalf("hit=%+v ok=%v err=%v", a, ok, err)
	}

	fr.err = errors.New("conn reset")
	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Fatalf("Get err=nil on failing redis")
	}
}
