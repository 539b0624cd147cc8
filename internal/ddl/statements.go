package ddl

import "strings"

// Breakpoint separates statements that must be executed one at a time.
const Breakpoint = "--> statement-breakpoint"

// JoinStatements renders statements as the body of a migration file.
func JoinStatements(statements []string, breakpoints bool) string {
	if len(statements) == 0 {
		return ""
	}
	separator := "\n\n"
	if breakpoints {
		separator = "\n" + Breakpoint + "\n"
	}
	return strings.Join(statements, separator) + "\n"
}

// SplitStatements reverses JoinStatements for a file written with breakpoints.
// Files written without breakpoints are split on statement terminators at line ends.
func SplitStatements(sql string) []string {
	var parts []string
	if strings.Contains(sql, Breakpoint) {
		parts = strings.Split(sql, Breakpoint)
	} else {
		parts = splitOnTerminators(sql)
	}
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func splitOnTerminators(sql string) []string {
	var (
		parts   []string
		current strings.Builder
	)
	for _, line := range strings.Split(sql, "\n") {
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			parts = append(parts, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
