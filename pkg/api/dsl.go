package api

import (
	"fmt"
	"strconv"
)

// dslValue is a literal argument or assigned value.
type dslValue struct {
	kind dslTokenKind // tokString, tokNumber or tokIdent (true/false)
	text string
	line int
}

func (v dslValue) str() (string, error) {
	if v.kind != tokString {
		return "", fmt.Errorf("line %d: expected string, got %s %q", v.line, v.kind, v.text)
	}
	return v.text, nil
}

func (v dslValue) boolean() (bool, error) {
	if v.kind != tokIdent {
		return false, fmt.Errorf("line %d: expected true or false, got %s %q", v.line, v.kind, v.text)
	}
	b, err := strconv.ParseBool(v.text)
	if err != nil {
		return false, fmt.Errorf("line %d: expected true or false, got %q", v.line, v.text)
	}
	return b, nil
}

// dslNode is a single statement: a call with optional block, an assignment,
// or a +"x" / -"x" list entry.
type dslNode struct {
	name     string
	line     int
	args     []dslValue
	named    map[string]dslValue
	body     []dslNode
	hasBody  bool
	assign   bool
	key      string
	hasKey   bool
	value    dslValue
	unaryArg string
}

type dslParser struct {
	tokens []dslToken
	pos    int
}

// ParseDSL reads the Kotlin-style declaration language into a Definition
// without validating it. Supported statements are job, startOn/gitPush,
// docker build/push and container/shellScript.
func ParseDSL(data []byte) (*Definition, error) {
	tokens, err := lexDSL(string(data))
	if err != nil {
		return nil, err
	}

	p := &dslParser{tokens: tokens}
	nodes, err := p.statements(false)
	if err != nil {
		return nil, err
	}

	d := &Definition{}
	for _, n := range nodes {
		if n.name != "job" || n.assign {
			return nil, fmt.Errorf("line %d: unsupported top-level statement %q", n.line, n.name)
		}
		job, err := buildJob(n)
		if err != nil {
			return nil, err
		}
		d.Jobs = append(d.Jobs, job)
	}
	return d, nil
}

func (p *dslParser) cur() dslToken { return p.tokens[p.pos] }

func (p *dslParser) advance() dslToken {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *dslParser) expect(kind dslTokenKind) (dslToken, error) {
	t := p.cur()
	if t.kind != kind {
		return t, fmt.Errorf("line %d: expected %s, got %s %q", t.line, kind, t.kind, t.text)
	}
	return p.advance(), nil
}

func (p *dslParser) skipSeps() {
	for p.cur().kind == tokSep {
		p.advance()
	}
}

// statements parses until EOF, or until the closing brace when inBlock.
func (p *dslParser) statements(inBlock bool) ([]dslNode, error) {
	var nodes []dslNode
	for {
		p.skipSeps()
		t := p.cur()
		switch {
		case t.kind == tokEOF && inBlock:
			return nil, fmt.Errorf("line %d: missing '}'", t.line)
		case t.kind == tokEOF:
			return nodes, nil
		case t.kind == tokRBrace && inBlock:
			p.advance()
			return nodes, nil
		}

		n, err := p.statement()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)

		switch p.cur().kind {
		case tokSep, tokEOF, tokRBrace:
		default:
			t := p.cur()
			return nil, fmt.Errorf("line %d: unexpected %s %q after statement", t.line, t.kind, t.text)
		}
	}
}

func (p *dslParser) statement() (dslNode, error) {
	t := p.advance()

	if t.kind == tokPlus || t.kind == tokMinus {
		s, err := p.expect(tokString)
		if err != nil {
			return dslNode{}, err
		}
		return dslNode{name: t.text, line: t.line, unaryArg: s.text}, nil
	}

	if t.kind != tokIdent {
		return dslNode{}, fmt.Errorf("line %d: unexpected %s %q", t.line, t.kind, t.text)
	}

	n := dslNode{name: t.text, line: t.line}

	switch p.cur().kind {
	case tokLBracket:
		p.advance()
		key, err := p.expect(tokString)
		if err != nil {
			return n, err
		}
		if _, err := p.expect(tokRBracket); err != nil {
			return n, err
		}
		n.key, n.hasKey = key.text, true
		if _, err := p.expect(tokAssign); err != nil {
			return n, err
		}
		return p.assignment(n)
	case tokAssign:
		p.advance()
		return p.assignment(n)
	}

	if p.cur().kind == tokLParen {
		p.advance()
		if err := p.arguments(&n); err != nil {
			return n, err
		}
	}

	if p.cur().kind == tokLBrace {
		p.advance()
		body, err := p.statements(true)
		if err != nil {
			return n, err
		}
		n.body, n.hasBody = body, true
	}
	return n, nil
}

func (p *dslParser) assignment(n dslNode) (dslNode, error) {
	v, err := p.value()
	if err != nil {
		return n, err
	}
	n.assign, n.value = true, v
	return n, nil
}

func (p *dslParser) arguments(n *dslNode) error {
	p.skipSeps()
	for p.cur().kind != tokRParen {
		if p.cur().kind == tokIdent && p.tokens[p.pos+1].kind == tokAssign {
			name := p.advance()
			p.advance()
			v, err := p.value()
			if err != nil {
				return err
			}
			if n.named == nil {
				n.named = make(map[string]dslValue)
			}
			n.named[name.text] = v
		} else {
			v, err := p.value()
			if err != nil {
				return err
			}
			n.args = append(n.args, v)
		}

		if p.cur().kind == tokComma {
			p.advance()
			p.skipSeps()
			continue
		}
		p.skipSeps()
		if p.cur().kind != tokRParen {
			t := p.cur()
			return fmt.Errorf("line %d: expected ',' or ')', got %s %q", t.line, t.kind, t.text)
		}
	}
	p.advance()
	return nil
}

// value parses a literal with optional .trimIndent()/.trimMargin() calls.
// Raw strings are dedented unless trimMargin is called on them.
func (p *dslParser) value() (dslValue, error) {
	p.skipSeps()
	t := p.advance()
	switch t.kind {
	case tokString, tokNumber:
	case tokIdent:
		if t.text != "true" && t.text != "false" {
			return dslValue{}, fmt.Errorf("line %d: unsupported expression %q", t.line, t.text)
		}
	default:
		return dslValue{}, fmt.Errorf("line %d: expected a value, got %s %q", t.line, t.kind, t.text)
	}

	text := t.text
	for p.cur().kind == tokDot {
		p.advance()
		fn, err := p.expect(tokIdent)
		if err != nil {
			return dslValue{}, err
		}
		if _, err := p.expect(tokLParen); err != nil {
			return dslValue{}, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return dslValue{}, err
		}
		if t.kind != tokString {
			return dslValue{}, fmt.Errorf("line %d: %s() needs a string", fn.line, fn.text)
		}

		switch fn.text {
		case "trimIndent":
			text = trimIndent(text)
		case "trimMargin":
			if t.raw != "" && text == t.text {
				text = trimMargin(t.raw)
			} else {
				text = trimMargin(text)
			}
		default:
			return dslValue{}, fmt.Errorf("line %d: unsupported call %q", fn.line, fn.text)
		}
	}

	return dslValue{kind: t.kind, text: text, line: t.line}, nil
}

func buildJob(n dslNode) (Job, error) {
	if len(n.args) != 1 || !n.hasBody {
		return Job{}, fmt.Errorf("line %d: job requires a name and a body", n.line)
	}
	name, err := n.args[0].str()
	if err != nil {
		return Job{}, err
	}

	job := Job{Name: name}
	counts := make(map[string]int)

	for _, s := range n.body {
		switch {
		case s.name == "startOn" && s.hasBody:
			if job.StartOn, err = buildTrigger(s); err != nil {
				return job, err
			}
		case s.name == StepTypeDocker && s.hasBody:
			step, err := buildDockerStep(s, stepName(s, StepTypeDocker, counts))
			if err != nil {
				return job, err
			}
			job.Steps = append(job.Steps, step)
		case s.name == StepTypeContainer && s.hasBody:
			step, err := buildContainerStep(s, stepName(s, StepTypeContainer, counts))
			if err != nil {
				return job, err
			}
			job.Steps = append(job.Steps, step)
		default:
			return job, fmt.Errorf("line %d: job %q: unsupported statement %q", s.line, name, s.name)
		}
	}
	return job, nil
}

// stepName returns the displayName argument, or the step type numbered by
// its position among steps of the same type.
func stepName(n dslNode, stepType string, counts map[string]int) string {
	counts[stepType]++
	if v, ok := n.named["displayName"]; ok && v.kind == tokString && v.text != "" {
		return v.text
	}
	return fmt.Sprintf("%s-%d", stepType, counts[stepType])
}

func buildTrigger(n dslNode) (Trigger, error) {
	var t Trigger
	for _, s := range n.body {
		if s.name != "gitPush" {
			return t, fmt.Errorf("line %d: unsupported trigger %q", s.line, s.name)
		}
		gp := &GitPushTrigger{Enabled: true}
		for _, f := range s.body {
			switch {
			case f.name == "enabled" && f.assign:
				b, err := f.value.boolean()
				if err != nil {
					return t, err
				}
				gp.Enabled = b
			case f.name == "branchFilter" && f.hasBody:
				for _, e := range f.body {
					switch e.name {
					case "+":
						gp.Branches = append(gp.Branches, e.unaryArg)
					case "-":
						gp.ExcludeBranches = append(gp.ExcludeBranches, e.unaryArg)
					default:
						return t, fmt.Errorf("line %d: branchFilter expects +\"pattern\" or -\"pattern\"", e.line)
					}
				}
			default:
				return t, fmt.Errorf("line %d: unsupported gitPush setting %q", f.line, f.name)
			}
		}
		t.GitPush = gp
	}
	return t, nil
}

func buildDockerStep(n dslNode, name string) (StepConfig, error) {
	cfg := &DockerConfig{}
	for _, s := range n.body {
		var err error
		switch {
		case s.name == "build" && s.hasBody:
			err = applyBuild(cfg, s)
		case s.name == "push":
			err = applyPush(cfg, s)
		default:
			err = fmt.Errorf("line %d: unsupported docker statement %q", s.line, s.name)
		}
		if err != nil {
			return StepConfig{}, err
		}
	}
	return StepConfig{Name: name, Type: StepTypeDocker, Docker: cfg}, nil
}

func applyBuild(cfg *DockerConfig, n dslNode) error {
	for _, s := range n.body {
		if !s.assign {
			return fmt.Errorf("line %d: unsupported build statement %q", s.line, s.name)
		}
		v, err := s.value.str()
		if err != nil {
			return err
		}
		switch {
		case s.name == "file" && !s.hasKey:
			cfg.File = v
		case s.name == "context" && !s.hasKey:
			cfg.Context = v
		case s.name == "labels" && s.hasKey:
			if cfg.Labels == nil {
				cfg.Labels = make(map[string]string)
			}
			cfg.Labels[s.key] = v
		case s.name == "args" && s.hasKey:
			if cfg.Args == nil {
				cfg.Args = make(map[string]string)
			}
			cfg.Args[s.key] = v
		default:
			return fmt.Errorf("line %d: unsupported build setting %q", s.line, s.name)
		}
	}
	return nil
}

func applyPush(cfg *DockerConfig, n dslNode) error {
	if len(n.args) != 1 {
		return fmt.Errorf("line %d: push requires a registry url", n.line)
	}
	url, err := n.args[0].str()
	if err != nil {
		return err
	}
	cfg.Push.URL = url

	for _, s := range n.body {
		if s.name != "tags" {
			return fmt.Errorf("line %d: unsupported push statement %q", s.line, s.name)
		}
		for _, a := range s.args {
			tag, err := a.str()
			if err != nil {
				return err
			}
			cfg.Push.Tags = append(cfg.Push.Tags, tag)
		}
		for _, e := range s.body {
			if e.name != "+" {
				return fmt.Errorf("line %d: tags block expects +\"tag\"", e.line)
			}
			cfg.Push.Tags = append(cfg.Push.Tags, e.unaryArg)
		}
	}
	return nil
}

func buildContainerStep(n dslNode, name string) (StepConfig, error) {
	cfg := &ContainerConfig{}

	img, hasImage := n.named["image"]
	if !hasImage && len(n.args) > 0 {
		img, hasImage = n.args[0], true
	}
	if !hasImage {
		return StepConfig{}, fmt.Errorf("line %d: container requires an image", n.line)
	}
	image, err := img.str()
	if err != nil {
		return StepConfig{}, err
	}
	cfg.Image = image

	for _, s := range n.body {
		switch {
		case s.name == "env" && s.assign && s.hasKey:
			v, err := s.value.str()
			if err != nil {
				return StepConfig{}, err
			}
			if cfg.Env == nil {
				cfg.Env = make(map[string]string)
			}
			cfg.Env[s.key] = v
		case s.name == "workDir" && s.assign && !s.hasKey:
			v, err := s.value.str()
			if err != nil {
				return StepConfig{}, err
			}
			cfg.WorkDir = v
		case s.name == "singleShell" && s.assign && !s.hasKey:
			b, err := s.value.boolean()
			if err != nil {
				return StepConfig{}, err
			}
			cfg.SingleShell = b
		case s.name == "shellScript" && s.hasBody:
			for _, f := range s.body {
				if f.name != "content" || !f.assign {
					return StepConfig{}, fmt.Errorf("line %d: unsupported shellScript setting %q", f.line, f.name)
				}
				content, err := f.value.str()
				if err != nil {
					return StepConfig{}, err
				}
				cfg.Script = content
			}
		default:
			return StepConfig{}, fmt.Errorf("line %d: unsupported container statement %q", s.line, s.name)
		}
	}
	return StepConfig{Name: name, Type: StepTypeContainer, Container: cfg}, nil
}
