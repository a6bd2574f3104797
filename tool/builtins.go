package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"golang.org/x/crypto/bcrypt"

	"github.com/piyushagarwal-55/flowforge/core"
)

// Built-in tool identifiers.
const (
	BuiltinInput          = "input"
	BuiltinRespond        = "respond"
	BuiltinValidate       = "validate"
	BuiltinTemplateRender = "template.render"
	BuiltinHTTPFetch      = "http.fetch"
	BuiltinDBInsert       = "db.insert"
	BuiltinDBFind         = "db.find"
	BuiltinDBUpdate       = "db.update"
	BuiltinDBDelete       = "db.delete"
	BuiltinPasswordHash   = "password.hash"
	BuiltinPasswordVerify = "password.verify"
	BuiltinAIComplete     = "ai.complete"
)

// ResponseVar is the reserved variable a respond step writes. When present
// after a run, its body becomes the run's result.
const ResponseVar = "_response"

// CompletionRequest is a single-turn prompt for the ai.complete built-in.
type CompletionRequest struct {
	Model  string
	System string
	Prompt string
}

// Completer produces text completions for ai.complete.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// BuiltinDeps wires the collaborators used by the built-in tools. Tools whose
// dependency is nil fail with UNAVAILABLE when called.
type BuiltinDeps struct {
	Records    RecordStore
	Completer  Completer
	HTTPClient *http.Client
	BcryptCost int
}

// Builtins returns the stock tool set, sorted by id.
func Builtins(deps BuiltinDeps) []Tool {
	b := builtins{deps: deps}
	if b.deps.HTTPClient == nil {
		b.deps.HTTPClient = http.DefaultClient
	}
	if b.deps.BcryptCost == 0 {
		b.deps.BcryptCost = bcrypt.DefaultCost
	}

	outputVar := core.StringSchema("Variable to store the output in.")
	collection := core.StringSchema("Record collection name.")

	return []Tool{
		{
			ID:          BuiltinAIComplete,
			Name:        "AI Complete",
			Description: "Generate a text completion from a prompt.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"prompt":       core.StringSchema("User prompt."),
				"system":       core.StringSchema("Optional system prompt."),
				"model":        core.StringSchema("Optional model override."),
				OutputVarField: outputVar,
			}, "prompt"),
			OutputSchema: core.StringSchema("Completion text."),
			Handler:      b.aiComplete,
		},
		{
			ID:          BuiltinDBDelete,
			Name:        "Delete Record",
			Description: "Delete a record by id.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"collection":   collection,
				"id":           core.StringSchema("Record id."),
				OutputVarField: outputVar,
			}, "collection", "id"),
			Handler: b.dbDelete,
		},
		{
			ID:          BuiltinDBFind,
			Name:        "Find Records",
			Description: "Find records whose fields equal the filter values.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"collection":   collection,
				"filter":       core.ObjectSchema(nil),
				"one":          core.BooleanSchema("Return only the first match."),
				OutputVarField: outputVar,
			}, "collection"),
			Handler: b.dbFind,
		},
		{
			ID:          BuiltinDBInsert,
			Name:        "Insert Record",
			Description: "Insert a record and store it in vars.created.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"collection":   collection,
				"document":     core.ObjectSchema(nil),
				OutputVarField: outputVar,
			}, "collection"),
			OutputSchema: core.ObjectSchema(nil),
			Handler:      b.dbInsert,
		},
		{
			ID:          BuiltinDBUpdate,
			Name:        "Update Record",
			Description: "Merge fields into a record by id.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"collection":   collection,
				"id":           core.StringSchema("Record id."),
				"set":          core.ObjectSchema(nil),
				OutputVarField: outputVar,
			}, "collection", "id", "set"),
			Handler: b.dbUpdate,
		},
		{
			ID:          BuiltinHTTPFetch,
			Name:        "HTTP Fetch",
			Description: "Fetch a URL over HTTP(S) and return status, body and headers.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"url":          core.StringSchema("Request URL."),
				"method":       core.StringSchema("HTTP method, GET by default."),
				"body":         core.StringSchema("Optional request body."),
				"headers":      core.ObjectSchema(nil),
				OutputVarField: outputVar,
			}, "url"),
			Handler: b.httpFetch,
		},
		{
			ID:          BuiltinInput,
			Name:        "Input",
			Description: "Expose the run input and check required fields.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"required":     core.ArraySchema(core.StringSchema(""), "Fields that must be present."),
				"defaults":     core.ObjectSchema(nil),
				OutputVarField: outputVar,
			}),
			Handler: b.input,
		},
		{
			ID:          BuiltinPasswordHash,
			Name:        "Hash Password",
			Description: "Hash a password with bcrypt.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"password":     core.StringSchema("Plain-text password."),
				OutputVarField: outputVar,
			}, "password"),
			Handler: b.passwordHash,
		},
		{
			ID:          BuiltinPasswordVerify,
			Name:        "Verify Password",
			Description: "Compare a password with a bcrypt hash; fails on mismatch.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"password":     core.StringSchema("Plain-text password."),
				"hash":         core.StringSchema("bcrypt hash."),
				OutputVarField: outputVar,
			}, "password", "hash"),
			Handler: b.passwordVerify,
		},
		{
			ID:          BuiltinRespond,
			Name:        "Respond",
			Description: "Set the run's response status and body.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"status": core.NumberSchema("HTTP status, 200 by default."),
				"body":   core.AnySchema("Response body."),
			}),
			Handler: b.respond,
		},
		{
			ID:          BuiltinTemplateRender,
			Name:        "Render Template",
			Description: "Render a Go template string with provided values.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"template":     core.StringSchema("Template body."),
				"values":       core.ObjectSchema(nil),
				OutputVarField: outputVar,
			}, "template"),
			Handler: b.templateRender,
		},
		{
			ID:          BuiltinValidate,
			Name:        "Validate",
			Description: "Validate a value against a JSON schema.",
			InputSchema: core.ObjectSchema(map[string]*core.Schema{
				"value":  core.AnySchema("Value to validate; defaults to vars.input."),
				"schema": core.ObjectSchema(nil),
			}, "schema"),
			Handler: b.validate,
		},
	}
}

// RegisterBuiltins registers the stock tool set into reg.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) {
	for _, t := range Builtins(deps) {
		reg.Register(t)
	}
}

type builtins struct {
	deps BuiltinDeps
}

func (b builtins) input(_ context.Context, input map[string]any, cc *CallContext) (any, error) {
	payload := make(map[string]any)
	for k, v := range mapField(input, "defaults") {
		payload[k] = v
	}
	if raw, ok := cc.Get("input"); ok {
		if m, ok := raw.(map[string]any); ok {
			for k, v := range m {
				payload[k] = v
			}
		}
	}

	var missing []string
	for _, field := range stringSliceField(input, "required") {
		if v, ok := payload[field]; !ok || v == nil || v == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, NewError(ErrorCodeInvalidInput, "missing required input: "+strings.Join(missing, ", "), nil).
			WithDetails(map[string]any{"missing": missing})
	}

	cc.Set("input", payload)
	if _, ok := input[OutputVarField]; ok {
		storeOutput(cc, input, "", payload)
	}
	return payload, nil
}

func (b builtins) respond(_ context.Context, input map[string]any, cc *CallContext) (any, error) {
	resp := map[string]any{
		"status": intField(input, "status", http.StatusOK),
		"body":   input["body"],
	}
	cc.Set(ResponseVar, resp)
	return resp, nil
}

func (b builtins) validate(_ context.Context, input map[string]any, cc *CallContext) (any, error) {
	schema := mapField(input, "schema")
	if len(schema) == 0 {
		return nil, NewError(ErrorCodeInvalidInput, "validate: schema input is required", nil)
	}
	value, ok := input["value"]
	if !ok {
		value, _ = cc.Get("input")
	}
	if err := ValidateValue(schema, value); err != nil {
		return nil, err
	}
	return map[string]any{"valid": true}, nil
}

func (b builtins) templateRender(_ context.Context, input map[string]any, cc *CallContext) (any, error) {
	body, _ := input["template"].(string)
	if strings.TrimSpace(body) == "" {
		return nil, NewError(ErrorCodeInvalidInput, "template.render: template input is required", nil)
	}

	values := make(map[string]any)
	for k, v := range cc.Vars {
		values[k] = v
	}
	for k, v := range mapField(input, "values") {
		values[k] = v
	}

	tpl, err := template.New(BuiltinTemplateRender).Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, NewError(ErrorCodeInvalidInput, "template.render: parse template", err)
	}
	var out bytes.Buffer
	if err := tpl.Execute(&out, values); err != nil {
		return nil, NewError(ErrorCodeInvocationFailed, "template.render: execute template", err)
	}

	rendered := out.String()
	storeOutput(cc, input, "", rendered)
	return map[string]any{"rendered": rendered}, nil
}

func (b builtins) httpFetch(ctx context.Context, input map[string]any, cc *CallContext) (any, error) {
	url, err := requireString(BuiltinHTTPFetch, input, "url")
	if err != nil {
		return nil, err
	}
	method := http.MethodGet
	if m := stringField(input, "method"); m != "" {
		method = strings.ToUpper(m)
	}

	var bodyReader io.Reader
	if body, ok := input["body"].(string); ok && body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, NewError(ErrorCodeInvalidInput, "http.fetch: build request", err)
	}
	for k, v := range mapField(input, "headers") {
		req.Header.Set(k, fmt.Sprint(v))
	}

	resp, err := b.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, NewError(ErrorCodeUpstreamFailure, "http.fetch: request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(ErrorCodeUpstreamFailure, "http.fetch: read response", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		headers[key] = strings.Join(values, ", ")
	}
	out := map[string]any{
		"statusCode": resp.StatusCode,
		"body":       string(respBody),
		"headers":    headers,
	}
	storeOutput(cc, input, "", out)
	return out, nil
}

func (b builtins) records(toolID string) (RecordStore, error) {
	if b.deps.Records == nil {
		return nil, NewError(ErrorCodeUnavailable, toolID+": no record store configured", nil)
	}
	return b.deps.Records, nil
}

func (b builtins) dbInsert(ctx context.Context, input map[string]any, cc *CallContext) (any, error) {
	store, err := b.records(BuiltinDBInsert)
	if err != nil {
		return nil, err
	}
	coll, err := requireString(BuiltinDBInsert, input, "collection")
	if err != nil {
		return nil, err
	}
	doc := mapField(input, "document")
	if doc == nil {
		doc = mapField(input, "data")
	}
	if doc == nil {
		doc = map[string]any{}
	}

	created, err := store.Insert(ctx, coll, doc)
	if err != nil {
		return nil, err
	}
	storeOutput(cc, input, "created", created)
	return created, nil
}

func (b builtins) dbFind(ctx context.Context, input map[string]any, cc *CallContext) (any, error) {
	store, err := b.records(BuiltinDBFind)
	if err != nil {
		return nil, err
	}
	coll, err := requireString(BuiltinDBFind, input, "collection")
	if err != nil {
		return nil, err
	}

	found, err := store.Find(ctx, coll, mapField(input, "filter"))
	if err != nil {
		return nil, err
	}

	var out any = found
	if boolField(input, "one") {
		if len(found) == 0 {
			out = nil
		} else {
			out = found[0]
		}
	}
	storeOutput(cc, input, "found", out)
	return out, nil
}

func (b builtins) dbUpdate(ctx context.Context, input map[string]any, cc *CallContext) (any, error) {
	store, err := b.records(BuiltinDBUpdate)
	if err != nil {
		return nil, err
	}
	coll, err := requireString(BuiltinDBUpdate, input, "collection")
	if err != nil {
		return nil, err
	}
	id, err := requireString(BuiltinDBUpdate, input, "id")
	if err != nil {
		return nil, err
	}

	updated, err := store.Update(ctx, coll, id, mapField(input, "set"))
	if err != nil {
		return nil, err
	}
	storeOutput(cc, input, "updated", updated)
	return updated, nil
}

func (b builtins) dbDelete(ctx context.Context, input map[string]any, cc *CallContext) (any, error) {
	store, err := b.records(BuiltinDBDelete)
	if err != nil {
		return nil, err
	}
	coll, err := requireString(BuiltinDBDelete, input, "collection")
	if err != nil {
		return nil, err
	}
	id, err := requireString(BuiltinDBDelete, input, "id")
	if err != nil {
		return nil, err
	}

	deleted, err := store.Delete(ctx, coll, id)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"deleted": deleted}
	storeOutput(cc, input, "", out)
	return out, nil
}

func (b builtins) passwordHash(_ context.Context, input map[string]any, cc *CallContext) (any, error) {
	password, _ := input["password"].(string)
	if password == "" {
		return nil, NewError(ErrorCodeInvalidInput, "password.hash: password input is required", nil)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.deps.BcryptCost)
	if err != nil {
		return nil, NewError(ErrorCodeInvalidInput, "password.hash: hash password", err)
	}
	out := string(hash)
	storeOutput(cc, input, "passwordHash", out)
	return out, nil
}

func (b builtins) passwordVerify(_ context.Context, input map[string]any, cc *CallContext) (any, error) {
	password, _ := input["password"].(string)
	hash, _ := input["hash"].(string)
	if password == "" || hash == "" {
		return nil, NewError(ErrorCodeInvalidInput, "password.verify: password and hash inputs are required", nil)
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return nil, NewError(ErrorCodeUnauthorized, "invalid credentials", nil)
	}
	if err != nil {
		return nil, NewError(ErrorCodeInvalidInput, "password.verify: malformed hash", err)
	}
	out := map[string]any{"valid": true}
	storeOutput(cc, input, "", out)
	return out, nil
}

func (b builtins) aiComplete(ctx context.Context, input map[string]any, cc *CallContext) (any, error) {
	if b.deps.Completer == nil {
		return nil, NewError(ErrorCodeUnavailable, "ai.complete: no LLM provider configured", nil)
	}
	prompt, err := requireString(BuiltinAIComplete, input, "prompt")
	if err != nil {
		return nil, err
	}

	text, err := b.deps.Completer.Complete(ctx, CompletionRequest{
		Model:  stringField(input, "model"),
		System: stringField(input, "system"),
		Prompt: prompt,
	})
	if err != nil {
		return nil, NewError(ErrorCodeUpstreamFailure, "ai.complete: completion failed", err)
	}
	storeOutput(cc, input, "completion", text)
	return text, nil
}
