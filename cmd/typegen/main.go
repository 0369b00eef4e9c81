// Command typegen emits the TypeScript wire types the web client imports.
// Run from the project root:
//
//	go run ./cmd/typegen -out web/src/types/generated.ts
//
// The output replaces hand-maintained declarations, so a Go struct change
// reaches the frontend with a regenerate instead of a second edit.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
)

// tsModel is one Go struct on its way to becoming a TS interface.
type tsModel struct {
	name   string
	dir    string
	fields []tsField
}

type tsField struct {
	jsonName string
	tsType   string
	optional bool
}

// tsByGoType maps Go primitive and stdlib types to their TS spelling.
var tsByGoType = map[string]string{
	"string":                 "string",
	"bool":                   "boolean",
	"int":                    "number",
	"int8":                   "number",
	"int16":                  "number",
	"int32":                  "number",
	"int64":                  "number",
	"uint":                   "number",
	"uint8":                  "number",
	"uint16":                 "number",
	"uint32":                 "number",
	"uint64":                 "number",
	"float32":                "number",
	"float64":                "number",
	"any":                    "unknown",
	"interface{}":            "unknown",
	"json.RawMessage":        "unknown",
	"time.Time":              "string",
	"[]byte":                 "string", // base64 on the wire
	"map[string]string":      "Record<string, string>",
	"map[string]interface{}": "Record<string, unknown>",
	"map[string]any":         "Record<string, unknown>",
}

// stringAliases records `type X string` declarations so fields typed as X
// resolve through the underlying primitive when no union exists for it.
var stringAliases = map[string]string{}

// unionValues maps a named type to its declared string constants, keyed
// both as "dir:Type" and plain "Type" (first package wins). The qualified
// key matters where two packages declare the same type name.
var unionValues = map[string][]string{}

// unions are emitted as named TS type aliases, in this order. Qualified
// keys pick the wire AudioFormat over the internal audio one.
var unions = []string{
	"protocol:MessageType",
	"protocol:AudioFormat",
	"core:Sender",
	"core:SentenceSource",
}

// models lists the structs to emit, in output order.
var models = []string{
	// Domain records
	"Feedback",
	"core:Message",
	"ChatSession",
	"SavedSentence",
	// Envelope
	"Envelope",
	// Client to server payloads
	"HelloPayload",
	"SendTextPayload",
	"SpeechSegmentPayload",
	"SpeechErrorPayload",
	"InputChangedPayload",
	"SelectSessionPayload",
	"ToggleSpeakPayload",
	"SaveBookmarkPayload",
	"DeleteBookmarkPayload",
	"SpeakDonePayload",
	// Server to client payloads
	"StatePayload",
	"MessageAppendedPayload",
	"FeedbackAttachedPayload",
	"TurnStatePayload",
	"SpeakingStatePayload",
	"InputStatePayload",
	"SpeakDirectivePayload",
	"CancelSpeakPayload",
	"AudioChunkPayload",
	"NoticePayload",
	"ErrorPayload",
	// Settings editor shapes
	"Settings",
	"session:Config",
	"conversation:Config",
	"services/openai/tutor:Config",
	"services/gemini/tts:Config",
}

// renames gives generic Go names a usable TS identity.
var renames = map[string]string{
	"core:Message":                 "ChatMessage",
	"session:Config":               "SessionConfig",
	"conversation:Config":          "ConversationConfig",
	"services/openai/tutor:Config": "TutorConfig",
	"services/gemini/tts:Config":   "TtsConfig",
}

// settingsModels emit with every field optional: the settings file carries
// overrides, the Go side owns the defaults.
var settingsModels = map[string]bool{
	"Settings":                     true,
	"session:Config":               true,
	"conversation:Config":          true,
	"services/openai/tutor:Config": true,
	"services/gemini/tts:Config":   true,
}

// selectorRefs resolves cross-package field spellings as they appear in
// source. The parser does not follow imports, so aliased packages (gemini
// for services/gemini/tts) and the four same-named Config types need an
// explicit entry; unique type names fall back to a plain-name lookup.
var selectorRefs = map[string]string{
	"session.Config":      "SessionConfig",
	"conversation.Config": "ConversationConfig",
	"tutor.Config":        "TutorConfig",
	"gemini.Config":       "TtsConfig",
}

// tsNameFor resolves a model key (possibly qualified) to its emitted TS
// name; seeded for every model and union so field types can reference them.
var tsNameFor = map[string]string{}

func init() {
	for _, key := range models {
		name := key
		if renamed, ok := renames[key]; ok {
			name = renamed
		}
		tsNameFor[key] = name
		if idx := strings.LastIndex(key, ":"); idx >= 0 {
			if plain := key[idx+1:]; tsNameFor[plain] == "" {
				tsNameFor[plain] = name
			}
		}
	}
	for _, key := range unions {
		plain := key[strings.LastIndex(key, ":")+1:]
		tsNameFor[plain] = plain
	}
}

func main() {
	outPath := flag.String("out", "web/src/types/generated.ts", "output TypeScript file path")
	flag.Parse()

	root, err := os.Getwd()
	if err != nil {
		fail("getwd: %v", err)
	}

	known, err := loadModels(root)
	if err != nil {
		fail("scan: %v", err)
	}

	var buf bytes.Buffer
	buf.WriteString("// Code generated by cmd/typegen; DO NOT EDIT.\n")
	buf.WriteString("// Regenerate: go run ./cmd/typegen -out web/src/types/generated.ts\n\n")

	for _, key := range unions {
		vals := unionValues[key]
		if len(vals) == 0 {
			fmt.Fprintf(os.Stderr, "warning: union %q has no const values, skipping\n", key)
			continue
		}
		plain := key[strings.LastIndex(key, ":")+1:]
		fmt.Fprintf(&buf, "export type %s = %s\n\n", plain, unionLiteral(vals))
	}

	for _, key := range models {
		m, ok := known[key]
		if !ok {
			fmt.Fprintf(os.Stderr, "warning: struct %q not found, skipping\n", key)
			continue
		}
		emitInterface(&buf, tsNameFor[key], key, m, settingsModels[key])
	}

	emitRESTTypes(&buf)

	dest := *outPath
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(root, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		fail("mkdir: %v", err)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		fail("write: %v", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", dest, buf.Len())
}

// loadModels parses every package directory under root and returns the
// structs it found, keyed both plain and as "rel/dir:Name". Union constants
// and string aliases are collected into the package-level tables on the way.
func loadModels(root string) (map[string]*tsModel, error) {
	dirs, err := sourceDirs(root)
	if err != nil {
		return nil, err
	}

	known := map[string]*tsModel{}
	for _, dir := range dirs {
		rel, _ := filepath.Rel(root, dir)
		if err := scanPackageDir(dir, rel, known); err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", rel, err)
		}
	}
	return known, nil
}

// sourceDirs returns every directory under root holding non-test Go files,
// skipping the web client, vendor trees and this command itself.
func sourceDirs(root string) ([]string, error) {
	skip := map[string]bool{
		"vendor":       true,
		"node_modules": true,
		".git":         true,
		"web":          true,
		"typegen":      true,
	}

	seen := map[string]bool{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// scanPackageDir walks one directory's declarations, collecting struct
// models, string-typed const groups and plain string aliases.
func scanPackageDir(dir, rel string, known map[string]*tsModel) error {
	fset := token.NewFileSet()
	pkgs, err := parser.ParseDir(fset, dir, nil, 0)
	if err != nil {
		return err
	}

	for _, pkg := range pkgs {
		for _, file := range pkg.Files {
			for _, decl := range file.Decls {
				gen, ok := decl.(*ast.GenDecl)
				if !ok {
					continue
				}
				switch gen.Tok {
				case token.TYPE:
					collectTypes(gen, rel, known)
				case token.CONST:
					collectConsts(gen, rel)
				}
			}
		}
	}
	return nil
}

func collectTypes(gen *ast.GenDecl, rel string, known map[string]*tsModel) {
	for _, spec := range gen.Specs {
		ts, ok := spec.(*ast.TypeSpec)
		if !ok {
			continue
		}
		switch t := ts.Type.(type) {
		case *ast.Ident:
			// `type Sender string` and friends.
			stringAliases[ts.Name.Name] = t.Name
		case *ast.StructType:
			m := modelFromStruct(ts.Name.Name, rel, t)
			known[rel+":"+ts.Name.Name] = m
			if _, exists := known[ts.Name.Name]; !exists {
				known[ts.Name.Name] = m
			}
		}
	}
}

func collectConsts(gen *ast.GenDecl, rel string) {
	for _, spec := range gen.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok || vs.Type == nil || len(vs.Values) == 0 {
			continue
		}
		typeName := typeString(vs.Type)
		for _, val := range vs.Values {
			lit, ok := val.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			v := strings.Trim(lit.Value, `"`)
			unionValues[rel+":"+typeName] = append(unionValues[rel+":"+typeName], v)
			if claimUnion(typeName, rel) {
				unionValues[typeName] = append(unionValues[typeName], v)
			}
		}
	}
}

// unionOrigins remembers which directory first claimed a plain type name so
// a second package's constants do not leak into the wrong union.
var unionOrigins = map[string]string{}

func claimUnion(typeName, rel string) bool {
	origin, claimed := unionOrigins[typeName]
	if !claimed {
		unionOrigins[typeName] = rel
		return true
	}
	return origin == rel
}

// modelFromStruct pulls the JSON-visible fields out of a struct type.
// Untagged and masked fields stay server-side, as do credentials.
func modelFromStruct(name, rel string, st *ast.StructType) *tsModel {
	m := &tsModel{name: name, dir: rel}
	for _, field := range st.Fields.List {
		if field.Tag == nil {
			continue
		}
		tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`")).Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		jsonName := parts[0]
		if jsonName == "" || jsonName == "-" {
			continue
		}
		// Secrets never reach the client.
		if jsonName == "api_key" || jsonName == "api_secret" {
			continue
		}

		omitempty := false
		for _, p := range parts[1:] {
			if p == "omitempty" {
				omitempty = true
			}
		}
		_, isPtr := field.Type.(*ast.StarExpr)

		m.fields = append(m.fields, tsField{
			jsonName: jsonName,
			tsType:   tsType(typeString(field.Type)),
			optional: omitempty || isPtr,
		})
	}
	return m
}

// typeString renders an AST type expression the way it reads in source.
func typeString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeString(t.X)
	case *ast.ArrayType:
		return "[]" + typeString(t.Elt)
	case *ast.MapType:
		return "map[" + typeString(t.Key) + "]" + typeString(t.Value)
	case *ast.SelectorExpr:
		return typeString(t.X) + "." + t.Sel.Name
	case *ast.InterfaceType:
		return "interface{}"
	default:
		return "unknown"
	}
}

// tsType translates one Go type reference into TS. Pointers only affect
// optionality, so they are peeled first; named types resolve through the
// emitted models, then unions, then string aliases.
func tsType(goType string) string {
	name := strings.TrimPrefix(goType, "*")

	if ts, ok := tsByGoType[name]; ok {
		return ts
	}
	if strings.HasPrefix(name, "[]") {
		return tsType(name[2:]) + "[]"
	}
	if strings.HasPrefix(name, "map[") {
		return "Record<string, unknown>"
	}
	if ts, ok := tsNameFor[name]; ok {
		return ts
	}
	if ts, ok := selectorRefs[name]; ok {
		return ts
	}

	// Cross-package references arrive qualified (core.ChatSession).
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
		if ts, ok := tsNameFor[name]; ok {
			return ts
		}
	}
	if vals := unionValues[name]; len(vals) > 0 {
		return unionLiteral(vals)
	}
	if underlying, ok := stringAliases[name]; ok {
		return tsType(underlying)
	}
	return "unknown"
}

// unionLiteral renders ["user","ai"] as 'user' | 'ai'.
func unionLiteral(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, " | ")
}

// emitInterface writes one interface. Wire models take optionality from
// their json tags; settings models are all-optional (overrides only).
func emitInterface(buf *bytes.Buffer, tsName, goKey string, m *tsModel, allOptional bool) {
	fmt.Fprintf(buf, "/** Generated from Go struct: %s */\n", goKey)
	fmt.Fprintf(buf, "export interface %s {\n", tsName)
	for _, f := range m.fields {
		marker := ""
		if allOptional || f.optional {
			marker = "?"
		}
		fmt.Fprintf(buf, "  %s%s: %s\n", f.jsonName, marker, f.tsType)
	}
	buf.WriteString("}\n\n")
}

// emitRESTTypes covers response shapes that are inline structs on the Go
// side and therefore invisible to the parser.
func emitRESTTypes(buf *bytes.Buffer) {
	buf.WriteString("// REST response shapes (inline structs on the Go side).\n\n")
	buf.WriteString(`export interface SessionsResponse {
  sessions: ChatSession[]
  active_session_id: string
}

export interface BookmarksResponse {
  sentences: SavedSentence[]
}
`)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "typegen: "+format+"\n", args...)
	os.Exit(1)
}
