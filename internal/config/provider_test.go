package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	params  map[string]string
	err     error
	batches [][]string
}

func (f *fakeSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, append([]string(nil), in.Names...))
	if f.err != nil {
		return nil, f.err
	}
	if in.WithDecryption == nil || !*in.WithDecryption {
		return nil, errors.New("decryption not requested")
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.params[name]; ok {
			out.Parameters = append(out.Parameters, ssmParam(name, v))
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderBatchesByTen(t *testing.T) {
	fake := &fakeSSM{params: map[string]string{}}
	keys := make([]string, 23)
	for i := range keys {
		keys[i] = fmt.Sprintf("/prod/checkin/p%02d", i)
		fake.params[keys[i]] = fmt.Sprintf("v%d", i)
	}

	got, err := newSSMProviderWithClient(fake).GetParametersBatch(context.Background(), keys)
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}
	if len(got) != 23 || got["/prod/checkin/p22"] != "v22" {
		t.Errorf("unexpected result: %v", got)
	}
	if len(fake.batches) != 3 || len(fake.batches[0]) != 10 || len(fake.batches[2]) != 3 {
		t.Errorf("unexpected batching: %v", fake.batches)
	}
}

func TestSSMProviderInvalidParameter(t *testing.T) {
	fake := &fakeSSM{params: map[string]string{"/a": "1"}}
	_, err := newSSMProviderWithClient(fake).GetParametersBatch(context.Background(), []string{"/a", "/b"})
	if err == nil || !strings.Contains(err.Error(), "/b") {
		t.Fatalf("expected not-found error naming /b, got %v", err)
	}
}

func TestSSMProviderClientError(t *testing.T) {
	boom := errors.New("AccessDenied")
	_, err := newSSMProviderWithClient(&fakeSSM{err: boom}).GetParametersBatch(context.Background(), []string{"/a"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}

func TestSSMProviderEmptyKeys(t *testing.T) {
	fake := &fakeSSM{}
	got, err := newSSMProviderWithClient(fake).GetParametersBatch(context.Background(), nil)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty map, got %v, %v", got, err)
	}
	if len(fake.batches) != 0 {
		t.Error("no SSM call expected for empty keys")
	}
}

func TestSSMProviderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeSSM{}
	_, err := newSSMProviderWithClient(fake).GetParametersBatch(ctx, []string{"/a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fake.batches) != 0 {
		t.Error("no SSM call expected after cancellation")
	}
}

func TestEnvVarProvider(t *testing.T) {
	p := &EnvVarProvider{lookup: func(k string) (string, bool) {
		if k == "LOCAL_API_KEY" {
			return "k", true
		}
		return "", false
	}}
	got, err := p.GetParametersBatch(context.Background(), []string{"LOCAL_API_KEY", "MISSING"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["LOCAL_API_KEY"] != "k" {
		t.Errorf("unexpected result: %v", got)
	}
	var _ SecretProvider = NewEnvVarProvider()
	var _ SecretProvider = NewSSMProvider("us-east-1", "")
}

func TestNewBuildInfoDefaults(t *testing.T) {
	b := NewBuildInfo()
	if b.Version != "dev" || b.Commit != "none" || b.BuildTime != "unknown" {
		t.Errorf("unexpected build info: %+v", b)
	}
}

func ssmParam(name, value string) ssmtypes.Parameter {
	return ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(value)}
}
