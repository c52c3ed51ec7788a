package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRepositoryDocumentsPass(t *testing.T) {
	if err := check("../../api/auth.openapi.yaml", "../../api/blog.openapi.yaml"); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func writeDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestMissingRouteIsReported(t *testing.T) {
	raw, err := os.ReadFile("../../api/blog.openapi.yaml")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	trimmed := strings.Replace(string(raw), "  /v1/editor:\n", "  /v1/editors:\n", 1)
	err = check("../../api/auth.openapi.yaml", writeDoc(t, trimmed))
	if err == nil || !strings.Contains(err.Error(), "GET /v1/editor") {
		t.Fatalf("expected missing route error, got %v", err)
	}
}

func TestErrorEnvelopeMismatch(t *testing.T) {
	left := schemaShape{Type: "object", Required: []string{"error"}, Properties: map[string]propertyShape{"error": {Type: "string"}}}
	right := schemaShape{Type: "object", Required: []string{"error"}, Properties: map[string]propertyShape{"error": {Type: "string"}, "code": {Type: "string"}}}
	if err := ensureSameShape("ErrorResponse", left, right); err == nil {
		t.Fatalf("expected shape mismatch")
	}
	if err := validateErrorResponse("x", schema{Type: "object", Properties: map[string]schema{"error": {Type: "string"}}}); err == nil {
		t.Fatalf("expected required error")
	}
}
