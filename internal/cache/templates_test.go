package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/taskcrew/internal/store"
	"github.com/nidhogg/taskcrew/internal/task"
)

type countingRepo struct {
	*store.Memory
	lookups int
}

func (c *countingRepo) FindTemplateByID(ctx context.Context, id string) (*task.Template, error) {
	c.lookups++
	return c.Memory.FindTemplateByID(ctx, id)
}

func newCached(t *testing.T) (*Templates, *countingRepo) {
	t.Helper()
	repo := &countingRepo{Memory: store.NewMemory()}
	c, err := NewTemplates(repo, Config{TTL: time.Minute}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c, repo
}

func TestTemplatesServedFromCache(t *testing.T) {
	c, repo := newCached(t)
	ctx := context.Background()
	if err := c.SaveTemplate(ctx, &task.Template{ID: "tp1", Name: "a", PromptTemplate: "x"}); err != nil {
		t.Fatal(err)
	}

	if _, err := c.FindTemplateByID(ctx, "tp1"); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	got, err := c.FindTemplateByID(ctx, "tp1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "a" {
		t.Fatalf("got %+v", got)
	}
	if repo.lookups != 1 {
		t.Fatalf("lookups = %d, want 1", repo.lookups)
	}
}

func TestTemplatesInvalidatedOnWrite(t *testing.T) {
	c, _ := newCached(t)
	ctx := context.Background()
	_ = c.SaveTemplate(ctx, &task.Template{ID: "tp1", Name: "a", PromptTemplate: "x"})
	_, _ = c.FindTemplateByID(ctx, "tp1")
	c.Wait()

	_ = c.SaveTemplate(ctx, &task.Template{ID: "tp1", Name: "b", PromptTemplate: "y"})
	got, err := c.FindTemplateByID(ctx, "tp1")
	if err != nil || got.Name != "b" {
		t.Fatalf("after save: %+v %v", got, err)
	}

	if err := c.DeleteTemplate(ctx, "tp1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.FindTemplateByID(ctx, "tp1"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}
