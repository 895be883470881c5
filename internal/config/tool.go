package config

import (
	"fmt"
	"strings"
)

// Tool identifies one of the supported backup utilities.
type Tool string

const (
	ToolMysqldump  Tool = "mysqldump"
	ToolMysqlpump  Tool = "mysqlpump"
	ToolXtrabackup Tool = "xtrabackup"
	ToolMydumper   Tool = "mydumper"
)

// toolAliases maps accepted shorthand spellings to canonical tools.
var toolAliases = map[string]Tool{
	"mysqldump":  ToolMysqldump,
	"dump":       ToolMysqldump,
	"mysqlpump":  ToolMysqlpump,
	"pump":       ToolMysqlpump,
	"xtrabackup": ToolXtrabackup,
	"xtra":       ToolXtrabackup,
	"xbk":        ToolXtrabackup,
	"mydumper":   ToolMydumper,
	"mydump":     ToolMydumper,
	"dumper":     ToolMydumper,
}

// ParseTool resolves a tool name or alias to its canonical form.
func ParseTool(name string) (Tool, error) {
	tool, ok := toolAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown backup tool %q (supported: mysqldump, mysqlpump, xtrabackup, mydumper)", name)
	}
	return tool, nil
}

// UsesCompressorPipeline reports whether the tool's SQL output is piped
// through an external lz4 process into the artifact.
func (t Tool) UsesCompressorPipeline() bool {
	return t == ToolMysqldump || t == ToolMysqlpump
}

// StreamsToArtifact reports whether the tool emits an already-packed stream
// on stdout that is written to the artifact directly.
func (t Tool) StreamsToArtifact() bool {
	return t == ToolXtrabackup || t == ToolMydumper
}

func (t Tool) String() string { return string(t) }
