// Copyright 2025 Vantage
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway provides the generative text backend used for report
// section rendering and advisory gap annotation. The backend is stateless:
// one prompt in, one completion out. Guardrail decisions are never
// delegated to it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// CompletionRequest is a single prompt for the generative backend.
type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Model       string  `json:"model,omitempty"`
}

// CompletionResponse is the completion returned by a provider.
type CompletionResponse struct {
	Content      string         `json:"content"`
	Model        string         `json:"model"`
	TokensUsed   int            `json:"tokens_used"`
	ResponseTime time.Duration  `json:"response_time"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Provider is the interface to a generative backend. Implementations must
// be safe for concurrent use; the synthesis orchestrator issues bounded
// concurrent calls against a single provider.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	IsHealthy() bool
}

// BedrockProvider implements Provider on AWS Bedrock using AWS SDK v2,
// with Signature V4 authentication via IAM roles.
type BedrockProvider struct {
	client *bedrockruntime.Client
	region string
	model  string

	// healthy is read and written across concurrent Complete calls.
	healthy atomic.Bool
}

// NewBedrockProvider creates a Bedrock-backed provider for the region.
func NewBedrockProvider(region, model string) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if model == "" {
		model = "anthropic.claude-3-haiku-20240307-v1:0"
	}

	p := &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: region,
		model:  model,
	}
	p.healthy.Store(true)
	return p, nil
}

func (p *BedrockProvider) Name() string {
	return "bedrock"
}

func (p *BedrockProvider) IsHealthy() bool {
	return p.healthy.Load()
}

// Complete invokes the configured Bedrock model.
func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := buildRequestBody(req, model)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        bodyJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.healthy.Store(false)
		log.Printf("[Gateway] Bedrock call failed: %v", err)
		return nil, fmt.Errorf("bedrock API error: %w", err)
	}

	p.healthy.Store(true)

	resp, err := parseResponseBody(output.Body, model)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	resp.Model = model
	resp.ResponseTime = time.Since(start)
	resp.Metadata["provider"] = "bedrock"
	resp.Metadata["region"] = p.region

	return resp, nil
}

// modelFamily returns the Bedrock model family for a model id.
func modelFamily(model string) string {
	switch {
	case len(model) >= 9 && model[:9] == "anthropic":
		return "anthropic"
	case len(model) >= 6 && model[:6] == "amazon":
		return "amazon"
	default:
		return "unknown"
	}
}

// buildRequestBody builds the request body for the model family.
func buildRequestBody(req CompletionRequest, model string) (map[string]any, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	switch modelFamily(model) {
	case "anthropic":
		return map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       req.Temperature,
			"messages": []map[string]string{
				{"role": "user", "content": req.Prompt},
			},
		}, nil
	case "amazon":
		return map[string]any{
			"inputText": req.Prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": maxTokens,
				"temperature":   req.Temperature,
				"topP":          0.9,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family for %q", model)
	}
}

// parseResponseBody parses the response body for the model family.
func parseResponseBody(body []byte, model string) (*CompletionResponse, error) {
	switch modelFamily(model) {
	case "anthropic":
		return parseAnthropicResponse(body)
	case "amazon":
		return parseTitanResponse(body)
	default:
		return nil, fmt.Errorf("unsupported model family for %q", model)
	}
}

func parseAnthropicResponse(body []byte) (*CompletionResponse, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	if len(resp.Content) > 0 {
		content = resp.Content[0].Text
	}

	return &CompletionResponse{
		Content:    content,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Metadata: map[string]any{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
		},
	}, nil
}

func parseTitanResponse(body []byte) (*CompletionResponse, error) {
	var resp struct {
		Results []struct {
			OutputText string `json:"outputText"`
			TokenCount int    `json:"tokenCount"`
		} `json:"results"`
		InputTextTokenCount int `json:"inputTextTokenCount"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	outputTokens := 0
	if len(resp.Results) > 0 {
		content = resp.Results[0].OutputText
		outputTokens = resp.Results[0].TokenCount
	}

	return &CompletionResponse{
		Content:    content,
		TokensUsed: resp.InputTextTokenCount + outputTokens,
		Metadata: map[string]any{
			"prompt_tokens":     resp.InputTextTokenCount,
			"completion_tokens": outputTokens,
		},
	}, nil
}
