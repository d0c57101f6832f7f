// Package modelclient implements the dag.GenerateFunc adapter and the
// episode pipeline's Embedder over the providers the key pool rotates
// across (spec §4.9's governance list): Anthropic direct and AWS Bedrock
// for generation, langchaingo's uniform interface for embeddings (spec
// §4.10).
package modelclient

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/atlasagent/atlas-core/pkg/keypool"
)

// maxOutputTokens bounds a single generation call; the planner,
// synthesizer, and episode summarizer all fit comfortably under this.
const maxOutputTokens = 2048

// Dispatcher routes a keypool.Credential to the SDK client that serves
// its Provider, implementing dag.GenerateFunc.
type Dispatcher struct {
	anthropicClients map[string]*anthropic.Client // keyed by KeyRef env var name
	bedrockClients   map[string]*bedrockruntime.Client
}

// NewDispatcher builds empty client caches; clients are constructed lazily
// per KeyRef on first use so an unused credential in the rotation never
// requires its secret to be present at startup.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		anthropicClients: map[string]*anthropic.Client{},
		bedrockClients:   map[string]*bedrockruntime.Client{},
	}
}

// Generate implements dag.GenerateFunc: dispatch cred to its provider and
// run one completion call over prompt.
func (d *Dispatcher) Generate(ctx context.Context, cred keypool.Credential, prompt string) (string, error) {
	switch cred.Provider {
	case keypool.ProviderAnthropic:
		return d.generateAnthropic(ctx, cred, prompt)
	case keypool.ProviderBedrock:
		return d.generateBedrock(ctx, cred, prompt)
	default:
		return "", fmt.Errorf("modelclient: unknown provider %q", cred.Provider)
	}
}

func (d *Dispatcher) generateAnthropic(ctx context.Context, cred keypool.Credential, prompt string) (string, error) {
	client, ok := d.anthropicClients[cred.KeyRef]
	if !ok {
		c := anthropic.NewClient(option.WithAPIKey(os.Getenv(cred.KeyRef)))
		client = &c
		d.anthropicClients[cred.KeyRef] = client
	}
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cred.Model),
		MaxTokens: maxOutputTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("modelclient: anthropic call: %w", err)
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

func (d *Dispatcher) generateBedrock(ctx context.Context, cred keypool.Credential, prompt string) (string, error) {
	client, ok := d.bedrockClients[cred.KeyRef]
	if !ok {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return "", fmt.Errorf("modelclient: load aws config: %w", err)
		}
		client = bedrockruntime.NewFromConfig(cfg)
		d.bedrockClients[cred.KeyRef] = client
	}
	body := fmt.Sprintf(`{"anthropic_version":"bedrock-2023-05-31","max_tokens":%d,"messages":[{"role":"user","content":%q}]}`,
		maxOutputTokens, prompt)
	out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(cred.Model),
		ContentType: aws.String("application/json"),
		Body:        []byte(body),
	})
	if err != nil {
		return "", fmt.Errorf("modelclient: bedrock call: %w", err)
	}
	return string(out.Body), nil
}

// Embedder implements pkg/episode.Embedder over langchaingo's uniform
// embeddings client, so the episode pipeline's embedding call goes
// through the same multi-provider abstraction rather than a
// provider-specific SDK call (spec §4.10 step 4).
type Embedder struct {
	client *embeddings.EmbedderImpl
	model  string
}

// NewEmbedder builds an Embedder from an Anthropic-backed langchaingo LLM;
// callers wire modelName/keyRef from the episode_summary role's credential.
func NewEmbedder(modelName, keyRef string) (*Embedder, error) {
	llm, err := anthropic.New(anthropic.WithModel(modelName), anthropic.WithToken(os.Getenv(keyRef)))
	if err != nil {
		return nil, fmt.Errorf("modelclient: build embedding llm: %w", err)
	}
	client, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("modelclient: build embedder: %w", err)
	}
	return &Embedder{client: client, model: modelName}, nil
}

// Embed satisfies episode.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("modelclient: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("modelclient: embedder returned no vectors")
	}
	return vecs[0], nil
}

// ModelName satisfies episode.Embedder.
func (e *Embedder) ModelName() string { return e.model }
