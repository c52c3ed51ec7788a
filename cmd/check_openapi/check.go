package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Routes each document must describe, as "METHOD path".
var (
	authRoutes = []string{
		"GET /healthz",
		"POST /v1/auth/login",
		"POST /v1/auth/register",
		"POST /v1/auth/logout",
		"GET /v1/users",
		"GET /v1/users/{username}",
		"PUT /v1/users/{username}",
		"DELETE /v1/users/{username}",
	}
	blogRoutes = []string{
		"GET /healthz",
		"GET /v1/blog",
		"GET /v1/blog/{slug}",
		"POST /v1/blog/{slug}",
		"PUT /v1/blog/{slug}",
		"DELETE /v1/blog/{slug}",
		"GET /v1/editor",
	}
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

type schemaShape struct {
	Type       string
	Required   []string
	Properties map[string]propertyShape
}

type propertyShape struct {
	Type     string
	Ref      string
	ItemsRef string
}

func check(authPath, blogPath string) error {
	authDoc, err := loadDoc(authPath)
	if err != nil {
		return err
	}
	blogDoc, err := loadDoc(blogPath)
	if err != nil {
		return err
	}
	if err := validateRoutes("auth", authDoc, authRoutes); err != nil {
		return err
	}
	if err := validateRoutes("blog", blogDoc, blogRoutes); err != nil {
		return err
	}

	authErr, err := getSchema(authDoc, "ErrorResponse")
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	blogErr, err := getSchema(blogDoc, "ErrorResponse")
	if err != nil {
		return fmt.Errorf("blog: %w", err)
	}
	if err := validateErrorResponse("auth", authErr); err != nil {
		return err
	}
	if err := validateErrorResponse("blog", blogErr); err != nil {
		return err
	}
	return ensureSameShape("ErrorResponse", shapeFromSchema(authErr), shapeFromSchema(blogErr))
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func validateRoutes(scope string, doc openAPIDoc, routes []string) error {
	var missing []string
	for _, route := range routes {
		method, path, _ := strings.Cut(route, " ")
		ops, ok := doc.Paths[path]
		if !ok {
			missing = append(missing, route)
			continue
		}
		if _, ok := ops[strings.ToLower(method)]; !ok {
			missing = append(missing, route)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: undocumented routes: %s", scope, strings.Join(missing, ", "))
	}
	return nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

// validateErrorResponse matches the {"error": msg} body written by writeError.
func validateErrorResponse(scope string, s schema) error {
	if s.Type != "object" {
		return fmt.Errorf("%s ErrorResponse must be object", scope)
	}
	if !makeSet(s.Required)["error"] {
		return fmt.Errorf("%s ErrorResponse.required must include \"error\"", scope)
	}
	errorProp, ok := s.Properties["error"]
	if !ok || errorProp.Type != "string" {
		return fmt.Errorf("%s ErrorResponse.error must be string", scope)
	}
	return nil
}

func shapeFromSchema(s schema) schemaShape {
	out := schemaShape{
		Type:       s.Type,
		Required:   append([]string(nil), s.Required...),
		Properties: make(map[string]propertyShape, len(s.Properties)),
	}
	sort.Strings(out.Required)
	for name, prop := range s.Properties {
		shape := propertyShape{Type: prop.Type, Ref: strings.TrimSpace(prop.Ref)}
		if prop.Items != nil {
			shape.ItemsRef = strings.TrimSpace(prop.Items.Ref)
		}
		out.Properties[name] = shape
	}
	return out
}

func ensureSameShape(name string, left, right schemaShape) error {
	if left.Type != right.Type {
		return fmt.Errorf("%s type mismatch: %q vs %q", name, left.Type, right.Type)
	}
	if strings.Join(left.Required, ",") != strings.Join(right.Required, ",") {
		return fmt.Errorf("%s required mismatch: %v vs %v", name, left.Required, right.Required)
	}
	if len(left.Properties) != len(right.Properties) {
		return fmt.Errorf("%s property count mismatch: %d vs %d", name, len(left.Properties), len(right.Properties))
	}
	for key, leftProp := range left.Properties {
		rightProp, ok := right.Properties[key]
		if !ok {
			return fmt.Errorf("%s missing property %q in blog schema", name, key)
		}
		if leftProp != rightProp {
			return fmt.Errorf("%s property %q mismatch: %+v vs %+v", name, key, leftProp, rightProp)
		}
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}
