package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvilelaf/tsunami/pkg/llm"
	"github.com/dvilelaf/tsunami/pkg/logging"
)

// ErrNoFit means no attempt produced a post or thread within budget.
var ErrNoFit = errors.New("no generation fit the length budget")

// TextGenerator produces one completion for a request.
type TextGenerator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// GeneratorFunc adapts a function to TextGenerator.
type GeneratorFunc func(ctx context.Context, req llm.Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req llm.Request) (string, error) {
	return f(ctx, req)
}

// Direct wraps a provider without caching.
func Direct(p llm.Provider) TextGenerator {
	return GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return llm.Collect(ctx, p, req)
	})
}

type GeneratorConfig struct {
	Budget      int
	Hashtag     string
	MaxAttempts int
	// TerseAfter is the number of failed attempts before TerseInstruction
	// is added to the persona. Zero takes the default.
	TerseAfter int
	MaxTokens  int
	Personas   []Persona
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Budget:      DefaultBudget,
		Hashtag:     "#olas",
		MaxAttempts: 5,
		TerseAfter:  3,
		MaxTokens:   300,
		Personas:    DefaultPersonas,
	}
}

// Generator writes posts for facts.
type Generator struct {
	text   TextGenerator
	cfg    GeneratorConfig
	logger logging.Logger
}

func NewGenerator(text TextGenerator, cfg GeneratorConfig, logger logging.Logger) *Generator {
	def := DefaultGeneratorConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.TerseAfter <= 0 {
		cfg.TerseAfter = def.TerseAfter
	}
	if len(cfg.Personas) == 0 {
		cfg.Personas = def.Personas
	}
	return &Generator{text: text, cfg: cfg, logger: logger}
}

// BuildThread asks for a post about fact and returns it as a single post or
// as a thread. header, when set, is prefixed verbatim to the generated text.
func (g *Generator) BuildThread(ctx context.Context, fact, header string) ([]string, error) {
	persona := PersonaFor(g.cfg.Personas, fact)
	log := g.logger.WithField("persona", persona.Name)

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		system := persona.Prompt
		if attempt >= g.cfg.TerseAfter {
			system += "\n" + TerseInstruction
		}

		generated, err := g.text.Generate(ctx, llm.Request{
			Messages: []llm.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: fact},
			},
			Temperature: llm.Float64(0),
			Seed:        llm.Int64(seedFor(fact, attempt)),
			MaxTokens:   g.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			generationAttempts.WithLabelValues("error").Inc()
			log.WithError(err).WithField("attempt", attempt+1).Warn("Text generation failed")
			continue
		}

		text := g.decorate(header, generated)
		if WeightedLength(text) <= g.cfg.Budget {
			generationAttempts.WithLabelValues("single").Inc()
			return []string{text}, nil
		}
		if thread, ok := SplitThread(text, g.cfg.Budget); ok {
			generationAttempts.WithLabelValues("thread").Inc()
			return thread, nil
		}
		generationAttempts.WithLabelValues("overflow").Inc()
		log.WithFields(logging.Fields{
			"attempt": attempt + 1,
			"length":  WeightedLength(text),
		}).Debug("Generated text over budget and not splittable")
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrNoFit, g.cfg.MaxAttempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNoFit, g.cfg.MaxAttempts)
}

func (g *Generator) decorate(header, generated string) string {
	text := strings.TrimSpace(generated)
	if header != "" {
		text = header + text
	}
	if tag := g.cfg.Hashtag; tag != "" && !strings.Contains(strings.ToLower(text), strings.ToLower(tag)) {
		text += " " + tag
	}
	return text
}
