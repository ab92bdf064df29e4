package openapi

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/faucetdb/keysmith/internal/keycodec"
)

func TestGenerate_Info(t *testing.T) {
	doc := Generate("http://localhost:8080", "1.2.3")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.1.0")
	}
	if doc.Info == nil || doc.Info.Version != "1.2.3" {
		t.Fatalf("Info not set correctly: %+v", doc.Info)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("Servers not set correctly")
	}
}

func TestGenerate_AllEndpoints(t *testing.T) {
	doc := Generate("http://localhost:8080", "dev")

	for _, ep := range Endpoints {
		item := doc.Paths.Value(ep.Path)
		if item == nil || item.Post == nil {
			t.Errorf("missing POST %s", ep.Path)
			continue
		}
		if item.Post.OperationID != ep.OperationID {
			t.Errorf("%s: operationId = %q, want %q", ep.Path, item.Post.OperationID, ep.OperationID)
		}
		if item.Post.Responses.Value(ep.Status) == nil {
			t.Errorf("%s: missing %s response", ep.Path, ep.Status)
		}
	}
	for _, p := range []string{"/healthz", "/readyz"} {
		if item := doc.Paths.Value(p); item == nil || item.Get == nil {
			t.Errorf("missing GET %s", p)
		}
	}
	if got, want := doc.Paths.Len(), len(Endpoints)+2; got != want {
		t.Errorf("path count = %d, want %d", got, want)
	}
}

func TestGenerate_RateLimitedResponses(t *testing.T) {
	doc := Generate("http://localhost:8080", "dev")

	op := doc.Paths.Value("/validate").Post
	if !strings.Contains(op.Description, "authentication") {
		t.Errorf("description should name the category, got %q", op.Description)
	}

	tooMany := op.Responses.Value("429")
	if tooMany == nil {
		t.Fatal("missing 429 response")
	}
	if _, ok := tooMany.Value.Headers["Retry-After"]; !ok {
		t.Error("429 response should declare Retry-After")
	}

	ok := op.Responses.Value("200")
	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if _, found := ok.Value.Headers[h]; !found {
			t.Errorf("200 response missing header %s", h)
		}
	}
	if _, found := ok.Value.Headers["Retry-After"]; found {
		t.Error("200 response should not declare Retry-After")
	}

	if doc.Paths.Value("/healthz").Get.Responses.Value("429") != nil {
		t.Error("probes are not rate limited")
	}
}

func TestGenerate_BearerOnlyOnProtected(t *testing.T) {
	doc := Generate("http://localhost:8080", "dev")

	scheme, ok := doc.Components.SecuritySchemes["bearerAuth"]
	if !ok || scheme.Value.Scheme != "bearer" || scheme.Value.BearerFormat != "JWT" {
		t.Fatalf("bearerAuth scheme not set correctly")
	}

	for _, ep := range Endpoints {
		op := doc.Paths.Value(ep.Path).Post
		has := op.Security != nil && len(*op.Security) > 0
		if has != ep.Bearer {
			t.Errorf("%s: security declared = %v, want %v", ep.Path, has, ep.Bearer)
		}
	}
}

func TestGenerate_ComponentSchemasResolve(t *testing.T) {
	doc := Generate("http://localhost:8080", "dev")

	for _, ep := range Endpoints {
		for _, name := range []string{ep.Request, ep.Response} {
			if name == "" {
				continue
			}
			if _, ok := doc.Components.Schemas[name]; !ok {
				t.Errorf("%s references undefined schema %q", ep.Path, name)
			}
		}
	}

	errSchema := doc.Components.Schemas["ErrorResponse"].Value
	detail := errSchema.Properties["error"].Value
	for _, field := range []string{"code", "kind", "message", "context"} {
		if _, ok := detail.Properties[field]; !ok {
			t.Errorf("ErrorResponse.error missing %q", field)
		}
	}
}

func TestKeyPatternMatchesGeneratedKeys(t *testing.T) {
	re := regexp.MustCompile(keyPattern)
	codec, err := keycodec.New("ks", "live")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		key, err := codec.Generate(i)
		if err != nil {
			t.Fatal(err)
		}
		if !re.MatchString(key.Text) {
			t.Errorf("pattern does not match generated key %q", key.Text)
		}
	}
	if re.MatchString("ks_live_v0_1_AAAA_AAAA") {
		t.Error("pattern should reject version 0 and short segments")
	}
}

func TestGenerate_MarshalsToJSON(t *testing.T) {
	doc := Generate("http://localhost:8080", "dev")

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	paths, ok := raw["paths"].(map[string]interface{})
	if !ok || paths["/tokens/revoke"] == nil {
		t.Errorf("marshalled document missing paths: %s", data)
	}
}
