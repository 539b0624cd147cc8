package database

import (
	"regexp"
	"strings"
)

// SQLite keeps constraint names, generated expressions and table options only in the stored
// CREATE statements, so those parts are read from the statement text.

type namedCheck struct {
	name  string
	value string
}

type tableDefinition struct {
	strict         bool
	withoutRowid   bool
	autoincrement  bool
	primaryKeyName string
	generated      map[string]string
	checks         []namedCheck
	foreignKeys    map[string]string
	uniques        map[string]string
}

var (
	constraintPattern = regexp.MustCompile(`(?is)^CONSTRAINT\s+("(?:[^"]|"")+"|` + "`[^`]+`" + `|\[[^\]]+\]|\S+)\s+(.*)$`)
	generatedPattern  = regexp.MustCompile(`(?i)\bAS\s*\(`)
	viewPattern       = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:TEMP\s+|TEMPORARY\s+)?VIEW\s+(?:IF\s+NOT\s+EXISTS\s+)?.+?\s+AS\s+`)
	wherePattern      = regexp.MustCompile(`(?is)^\s*WHERE\s+(.*)$`)
)

func parseCreateTable(statement string) tableDefinition {
	definition := tableDefinition{
		generated:   map[string]string{},
		foreignKeys: map[string]string{},
		uniques:     map[string]string{},
	}
	open := strings.Index(statement, "(")
	if open < 0 {
		return definition
	}
	end := matchParen(statement, open)
	if end < 0 {
		return definition
	}

	for _, option := range strings.Split(strings.ToUpper(statement[end+1:]), ",") {
		switch strings.Join(strings.Fields(option), " ") {
		case "STRICT":
			definition.strict = true
		case "WITHOUT ROWID":
			definition.withoutRowid = true
		}
	}
	definition.autoincrement = strings.Contains(strings.ToUpper(statement), "AUTOINCREMENT")

	for _, part := range splitTopLevel(statement[open+1 : end]) {
		part = strings.TrimSpace(part)
		match := constraintPattern.FindStringSubmatch(part)
		if match == nil {
			if isTableConstraint(part) {
				continue
			}
			readColumnDefinition(part, &definition)
			continue
		}
		name, body := unquoteIdent(match[1]), strings.TrimSpace(match[2])
		upper := strings.ToUpper(body)
		switch {
		case strings.HasPrefix(upper, "PRIMARY KEY"):
			definition.primaryKeyName = name
		case strings.HasPrefix(upper, "UNIQUE"):
			definition.uniques[columnsKey(parenthesizedNames(body))] = name
		case strings.HasPrefix(upper, "FOREIGN KEY"):
			definition.foreignKeys[columnsKey(parenthesizedNames(body))] = name
		case strings.HasPrefix(upper, "CHECK"):
			if inner, ok := parenthesized(body); ok {
				definition.checks = append(definition.checks, namedCheck{name: name, value: strings.TrimSpace(inner)})
			}
		}
	}
	return definition
}

func isTableConstraint(part string) bool {
	upper := strings.ToUpper(part)
	for _, prefix := range []string{"PRIMARY KEY", "UNIQUE", "FOREIGN KEY", "CHECK"} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

func readColumnDefinition(part string, definition *tableDefinition) {
	name, rest := splitIdent(part)
	if name == "" {
		return
	}
	location := generatedPattern.FindStringIndex(rest)
	if location == nil {
		return
	}
	open := location[1] - 1
	if end := matchParen(rest, open); end > open {
		definition.generated[strings.ToLower(name)] = "(" + strings.TrimSpace(rest[open+1:end]) + ")"
	}
}

type indexDefinition struct {
	columns []string
	where   string
}

func parseCreateIndex(statement string) indexDefinition {
	upper := strings.ToUpper(statement)
	on := strings.Index(upper, " ON ")
	if on < 0 {
		return indexDefinition{}
	}
	open := strings.Index(statement[on:], "(")
	if open < 0 {
		return indexDefinition{}
	}
	open += on
	end := matchParen(statement, open)
	if end < 0 {
		return indexDefinition{}
	}
	var parsed indexDefinition
	for _, part := range splitTopLevel(statement[open+1 : end]) {
		parsed.columns = append(parsed.columns, strings.TrimSpace(part))
	}
	if match := wherePattern.FindStringSubmatch(statement[end+1:]); match != nil {
		parsed.where = strings.TrimSuffix(strings.TrimSpace(match[1]), ";")
	}
	return parsed
}

func viewDefinition(statement string) string {
	location := viewPattern.FindStringIndex(statement)
	if location == nil {
		return strings.TrimSpace(statement)
	}
	return strings.TrimSuffix(strings.TrimSpace(statement[location[1]:]), ";")
}

// splitTopLevel splits on commas outside parentheses and quotes.
func splitTopLevel(text string) []string {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for position := 0; position < len(text); position++ {
		char := text[position]
		if quote != 0 {
			if char == quote {
				quote = 0
			}
			continue
		}
		switch char {
		case '\'', '"', '`':
			quote = char
		case '[':
			quote = ']'
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, text[start:position])
				start = position + 1
			}
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		parts = append(parts, text[start:])
	}
	return parts
}

// matchParen returns the index of the parenthesis closing the one at open, or -1.
func matchParen(text string, open int) int {
	depth := 0
	var quote byte
	for position := open; position < len(text); position++ {
		char := text[position]
		if quote != 0 {
			if char == quote {
				quote = 0
			}
			continue
		}
		switch char {
		case '\'', '"', '`':
			quote = char
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return position
			}
		}
	}
	return -1
}

func parenthesized(text string) (string, bool) {
	open := strings.Index(text, "(")
	if open < 0 {
		return "", false
	}
	end := matchParen(text, open)
	if end < 0 {
		return "", false
	}
	return text[open+1 : end], true
}

func parenthesizedNames(text string) []string {
	inner, ok := parenthesized(text)
	if !ok {
		return nil
	}
	var names []string
	for _, part := range splitTopLevel(inner) {
		name, _ := splitIdent(strings.TrimSpace(part))
		names = append(names, name)
	}
	return names
}

// splitIdent reads the leading identifier of text and returns it with the remainder.
func splitIdent(text string) (string, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	var closing byte
	switch text[0] {
	case '"':
		closing = '"'
	case '`':
		closing = '`'
	case '[':
		closing = ']'
	}
	if closing != 0 {
		for position := 1; position < len(text); position++ {
			if text[position] != closing {
				continue
			}
			if closing == '"' && position+1 < len(text) && text[position+1] == '"' {
				position++
				continue
			}
			return unquoteIdent(text[:position+1]), text[position+1:]
		}
		return unquoteIdent(text), ""
	}
	end := strings.IndexAny(text, " \t\r\n(")
	if end < 0 {
		return text, ""
	}
	return text[:end], text[end:]
}

func unquoteIdent(ident string) string {
	if len(ident) >= 2 {
		switch {
		case ident[0] == '"' && ident[len(ident)-1] == '"':
			return strings.ReplaceAll(ident[1:len(ident)-1], `""`, `"`)
		case ident[0] == '`' && ident[len(ident)-1] == '`',
			ident[0] == '[' && ident[len(ident)-1] == ']':
			return ident[1 : len(ident)-1]
		}
	}
	return ident
}
