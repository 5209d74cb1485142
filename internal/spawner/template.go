package spawner

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// TemplateContext is the data visible to command and environment
// templates.
type TemplateContext struct {
	Username   string
	ServerName string
	Port       int
}

func contextFor(req Request) TemplateContext {
	return TemplateContext{
		Username:   req.Username,
		ServerName: req.ServerName,
		Port:       req.Port,
	}
}

func render(raw string, ctx TemplateContext) (string, error) {
	tmpl, err := template.New("spawner").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", raw, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, ctx); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", raw, err)
	}
	return b.String(), nil
}

// RenderCommand renders each argv element against the request.
func RenderCommand(argv []string, req Request) ([]string, error) {
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		rendered, err := render(arg, contextFor(req))
		if err != nil {
			return nil, err
		}
		out = append(out, rendered)
	}
	return out, nil
}

// RenderEnv renders every value of an environment map against the request.
// Keys are taken literally.
func RenderEnv(env map[string]string, req Request) (map[string]string, error) {
	out := make(map[string]string, len(env))
	for k, v := range env {
		rendered, err := render(v, contextFor(req))
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}
