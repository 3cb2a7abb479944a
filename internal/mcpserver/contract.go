package mcpserver

// MagicCommentGuide describes the directives weavetex reads from the top of a
// document and how it picks the TeX program and weave engine.
const MagicCommentGuide = `# weavetex Magic Comments

Directives are read from the leading comment block of the target file, before
the first line that is neither blank nor a ` + "`%`" + ` comment.

` + "```" + `latex
% !TeX program = xelatex
% !TeX encoding = UTF-8
% !Rnw weave = knitr
\documentclass{article}
` + "```" + `

## Directives

| Directive | Values | Effect |
|---|---|---|
| ` + "`% !TeX program`" + ` | pdflatex, xelatex | TeX engine used for every pass |
| ` + "`% !TeX encoding`" + ` | any R encoding name | Encoding passed to the weave engine |
| ` + "`% !Rnw weave`" + ` | Sweave, knitr | Engine for .Rnw/.Snw/.nw files |

Scope and variable names are case-insensitive. When a directive repeats, the
last one wins.

## Precedence

1. Magic comment in the document.
2. Environment: ` + "`WEAVETEX_TEX_PROGRAM`" + `, ` + "`WEAVETEX_WEAVE_ENGINE`" + `.
3. Project setting (` + "`compile.project_program`" + `, ` + "`compile.project_engine`" + `).
4. Global default (` + "`compile.default_program`" + `, ` + "`compile.default_engine`" + `).

An unknown value is a configuration error and fails the job before any tool
runs.

## File names

The target's file name must not contain spaces. Literate sources are woven to
` + "`<stem>.tex`" + ` beside the source; do not edit that file by hand.
`
