// File: internal/provider/cfn/provider.go
// Brief: CloudFormation implementation of the action Provider.

package cfn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/action"
	"github.com/example/stackctl/internal/retry"
)

// Config selects the region and endpoint of the CloudFormation client.
type Config struct {
	Region   string
	Endpoint string
	// Attempts bounds retries of throttled or transient calls.
	Attempts int
	Logger   logr.Logger
}

// cfnAPI is the subset of *cloudformation.Client used by Provider.
type cfnAPI interface {
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, opts ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, opts ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, opts ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, opts ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	UpdateTerminationProtection(ctx context.Context, in *cloudformation.UpdateTerminationProtectionInput, opts ...func(*cloudformation.Options)) (*cloudformation.UpdateTerminationProtectionOutput, error)
}

type Provider struct {
	client cfnAPI
	policy retry.Policy
	log    logr.Logger
}

var _ action.Provider = (*Provider)(nil)

var capabilities = []types.Capability{
	types.CapabilityCapabilityIam,
	types.CapabilityCapabilityNamedIam,
	types.CapabilityCapabilityAutoExpand,
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	var cfnOpts []func(*cloudformation.Options)
	if cfg.Endpoint != "" {
		cfnOpts = append(cfnOpts, func(o *cloudformation.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return newWithClient(cloudformation.NewFromConfig(awsCfg, cfnOpts...), cfg), nil
}

func newWithClient(client cfnAPI, cfg Config) *Provider {
	log := cfg.Logger
	return &Provider{
		client: client,
		log:    log,
		policy: retry.Policy{
			MaxAttempts: cfg.Attempts,
			OnRetry: func(attempt int, class retry.Class, err error, delay time.Duration) {
				log.Info("retrying provider call", "attempt", attempt, "class", string(class), "delay", delay.String(), "error", err.Error())
			},
		},
	}
}

func (p *Provider) do(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, p.policy, fn)
}

func (p *Provider) DescribeStack(ctx context.Context, fqn string) (*action.StackState, error) {
	var out *cloudformation.DescribeStacksOutput
	err := p.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(fqn)})
		return err
	})
	if err != nil {
		if isDoesNotExist(err) {
			return nil, fmt.Errorf("%s: %w", fqn, action.ErrStackNotFound)
		}
		return nil, err
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("%s: %w", fqn, action.ErrStackNotFound)
	}
	return stackState(out.Stacks[0]), nil
}

func stackState(s types.Stack) *action.StackState {
	st := &action.StackState{
		Name:                  aws.ToString(s.StackName),
		Status:                string(s.StackStatus),
		Reason:                aws.ToString(s.StackStatusReason),
		Parameters:            map[string]string{},
		Outputs:               map[string]string{},
		TerminationProtection: aws.ToBool(s.EnableTerminationProtection),
	}
	for _, p := range s.Parameters {
		st.Parameters[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	for _, o := range s.Outputs {
		st.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return st
}

func (p *Provider) CreateStack(ctx context.Context, in *action.StackInput) error {
	if in.TemplateBody == "" {
		return fmt.Errorf("create %s: template_path is required to create a stack", in.FQN)
	}
	return p.do(ctx, func(ctx context.Context) error {
		_, err := p.client.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:                   aws.String(in.FQN),
			TemplateBody:                aws.String(in.TemplateBody),
			Parameters:                  parameters(in.Parameters),
			Tags:                        tags(in.Tags),
			Capabilities:                capabilities,
			EnableTerminationProtection: aws.Bool(in.TerminationProtection),
		})
		return err
	})
}

func (p *Provider) UpdateStack(ctx context.Context, in *action.StackInput) error {
	req := &cloudformation.UpdateStackInput{
		StackName:    aws.String(in.FQN),
		Parameters:   parameters(in.Parameters),
		Tags:         tags(in.Tags),
		Capabilities: capabilities,
	}
	if in.TemplateBody != "" {
		req.TemplateBody = aws.String(in.TemplateBody)
	} else {
		req.UsePreviousTemplate = aws.Bool(true)
	}
	err := p.do(ctx, func(ctx context.Context) error {
		_, err := p.client.UpdateStack(ctx, req)
		return err
	})
	if isNoUpdates(err) {
		return action.ErrNoChange
	}
	if err != nil {
		return err
	}
	return p.setTerminationProtection(ctx, in.FQN, in.TerminationProtection)
}

func (p *Provider) setTerminationProtection(ctx context.Context, fqn string, enabled bool) error {
	return p.do(ctx, func(ctx context.Context) error {
		_, err := p.client.UpdateTerminationProtection(ctx, &cloudformation.UpdateTerminationProtectionInput{
			StackName:                   aws.String(fqn),
			EnableTerminationProtection: aws.Bool(enabled),
		})
		return err
	})
}

func (p *Provider) DestroyStack(ctx context.Context, fqn string, force bool) error {
	if force {
		if err := p.setTerminationProtection(ctx, fqn, false); err != nil {
			if isDoesNotExist(err) {
				return fmt.Errorf("%s: %w", fqn, action.ErrStackNotFound)
			}
			return err
		}
	}
	err := p.do(ctx, func(ctx context.Context) error {
		_, err := p.client.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(fqn)})
		return err
	})
	if isDoesNotExist(err) {
		return fmt.Errorf("%s: %w", fqn, action.ErrStackNotFound)
	}
	return err
}

func (p *Provider) Outputs(ctx context.Context, fqn string) (map[string]string, error) {
	st, err := p.DescribeStack(ctx, fqn)
	if err != nil {
		return nil, err
	}
	return st.Outputs, nil
}

func parameters(m map[string]string) []types.Parameter {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Parameter{ParameterKey: aws.String(k), ParameterValue: aws.String(m[k])})
	}
	return out
}

func tags(m map[string]string) []types.Tag {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return out
}

func validationMessage(err error) (string, bool) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "ValidationError" {
		return "", false
	}
	return apiErr.ErrorMessage(), true
}

func isDoesNotExist(err error) bool {
	msg, ok := validationMessage(err)
	return ok && strings.Contains(msg, "does not exist")
}

func isNoUpdates(err error) bool {
	msg, ok := validationMessage(err)
	return ok && strings.Contains(msg, "No updates are to be performed")
}
