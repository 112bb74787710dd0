package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsts/loginbot/pkg/browser"
	"github.com/dsts/loginbot/pkg/browser/browsertest"
	"github.com/dsts/loginbot/pkg/locators"
	"github.com/dsts/loginbot/pkg/prompt"
	"github.com/dsts/loginbot/pkg/session"
	"github.com/dsts/loginbot/pkg/types"
)

const testUser = types.UserID("user-1")

func testTable() *locators.Table {
	return &locators.Table{
		Stages: []locators.Stage{
			{Name: "reports", Selector: "#stage-reports"},
			{Name: "open-form", Selector: "#stage-open"},
			{Name: "details", Selector: "#stage-details"},
		},
		ValueField:   "#value-field",
		SaveButton:   "#save-btn",
		DeniedFields: []string{"__*", "*token*"},
		LabelPrefix:  "ctl_",
	}
}

func fastConfig() Config {
	return Config{
		StageSettle:  time.Millisecond,
		InputTimeout: 30 * time.Millisecond,
	}
}

// statusSink records pushed statuses and fires a hook per status so tests
// can answer prompts at the right moment.
type statusSink struct {
	mu       sync.Mutex
	statuses []string
	onStatus func(text string)
}

func (s *statusSink) PushStatus(_ types.UserID, text string) {
	s.mu.Lock()
	s.statuses = append(s.statuses, text)
	hook := s.onStatus
	s.mu.Unlock()

	if hook != nil {
		hook(text)
	}
}

func (s *statusSink) PushCaptcha(types.UserID, string, string) {}

func (s *statusSink) has(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, status := range s.statuses {
		if status == text {
			return true
		}
	}
	return false
}

type fixture struct {
	page    *browsertest.Page
	sink    *statusSink
	prompts *prompt.Channel
	wf      *Workflow
}

func newFixture(t *testing.T, table *locators.Table) *fixture {
	t.Helper()
	f := &fixture{
		page:    browsertest.NewPage(),
		sink:    &statusSink{},
		prompts: prompt.NewChannel(),
	}
	registry := session.NewRegistryWithLauncher(func() (browser.Page, *browser.Handles, error) {
		return f.page, nil, nil
	})
	wf, err := New(fastConfig(), registry, table, f.prompts, f.sink)
	require.NoError(t, err)
	f.wf = wf
	return f
}

// installStages puts all three stage controls on the page.
func (f *fixture) installStages() (first, second, third *browsertest.Element) {
	first = &browsertest.Element{TextVal: "Reports"}
	second = &browsertest.Element{TextVal: "Open"}
	third = &browsertest.Element{TextVal: "Details"}
	f.page.Set("#stage-reports", first)
	f.page.Set("#stage-open", second)
	f.page.Set("#stage-details", third)
	return first, second, third
}

// installEntryControls puts the value field and save button on the page.
func (f *fixture) installEntryControls() (field, save *browsertest.Element) {
	field = &browsertest.Element{}
	save = &browsertest.Element{}
	f.page.Set("#value-field", field)
	f.page.Set("#save-btn", save)
	return field, save
}

func TestNewRejectsMalformedDenyPattern(t *testing.T) {
	table := testTable()
	table.DeniedFields = []string{"[broken"}

	registry := session.NewRegistryWithLauncher(func() (browser.Page, *browser.Handles, error) {
		return browsertest.NewPage(), nil, nil
	})
	_, err := New(fastConfig(), registry, table, prompt.NewChannel(), nil)
	assert.Error(t, err)
}

func TestRunCompletesAllStages(t *testing.T) {
	f := newFixture(t, testTable())
	first, second, third := f.installStages()
	field, _ := f.installEntryControls()
	f.sink.onStatus = func(text string) {
		if text == "Please enter the value:" {
			f.prompts.Deliver(testUser, "1500")
		}
	}

	result := f.wf.Run(context.Background(), testUser)

	assert.True(t, result.OK)
	// The script strategy wins immediately on healthy controls.
	assert.Equal(t, []string{"el => el.click()"}, first.Evals)
	assert.Equal(t, []string{"el => el.click()"}, second.Evals)
	assert.Equal(t, []string{"el => el.click()"}, third.Evals)
	assert.Equal(t, "1500", field.LastFill())
	assert.True(t, f.sink.has("Value saved successfully"))
}

func TestMissingStageAbortsPipeline(t *testing.T) {
	f := newFixture(t, testTable())
	first, _, third := f.installStages()
	f.page.Remove("#stage-open")

	result := f.wf.Run(context.Background(), testUser)

	assert.False(t, result.OK)
	assert.Equal(t, types.ReasonElementNotFound, result.Reason)
	assert.NotEmpty(t, first.Evals, "stage 1 ran")
	assert.Empty(t, third.Evals, "stage 3 must never be attempted")
	assert.True(t, f.sink.has("Stage 2 (open-form) failed: element not found"))
}

func TestAllClickStrategiesFailing(t *testing.T) {
	f := newFixture(t, testTable())
	first, _, _ := f.installStages()
	first.EvalFunc = func(string) error { return errors.New("script blocked") }
	first.HoverErr = errors.New("not hoverable")

	result := f.wf.Run(context.Background(), testUser)

	assert.False(t, result.OK)
	assert.Equal(t, types.ReasonSubmissionError, result.Reason)
}

func TestClickStrategyFallbackOrder(t *testing.T) {
	scriptErr := errors.New("script execution disabled")

	t.Run("pointer wins when scripting fails", func(t *testing.T) {
		f := newFixture(t, testTable())
		element := &browsertest.Element{
			EvalFunc: func(string) error { return scriptErr },
		}

		strategy, err := f.wf.click(element)
		require.NoError(t, err)
		assert.Equal(t, "pointer", strategy)
		assert.Equal(t, 1, element.Hovers)
		assert.Equal(t, 1, element.Clicks)
	})

	t.Run("forced visibility wins when pointer fails", func(t *testing.T) {
		f := newFixture(t, testTable())
		element := &browsertest.Element{
			EvalFunc: func(expression string) error {
				if expression == "el => el.click()" {
					return scriptErr
				}
				return nil // the style override succeeds
			},
			HoverErr: errors.New("element obscured"),
		}

		strategy, err := f.wf.click(element)
		require.NoError(t, err)
		assert.Equal(t, "forced-visibility", strategy)
		assert.Equal(t, 1, element.Clicks)
	})

	t.Run("all strategies exhausted", func(t *testing.T) {
		f := newFixture(t, testTable())
		element := &browsertest.Element{
			EvalFunc: func(string) error { return scriptErr },
			HoverErr: errors.New("element obscured"),
		}

		_, err := f.wf.click(element)
		require.Error(t, err)
		assert.ErrorIs(t, err, scriptErr)
	})
}

func TestFormExtractionHonorsDenylist(t *testing.T) {
	f := newFixture(t, testTable())
	f.installStages()
	f.page.Lists["input"] = []*browsertest.Element{
		{Attrs: map[string]string{"id": "amount", "value": "1500"}},
		{Attrs: map[string]string{"id": "__VIEWSTATE", "value": "opaque-blob"}},
		{Attrs: map[string]string{"id": "csrftoken", "value": "deadbeef"}},
		{Attrs: map[string]string{"id": "status", "value": "open", "readonly": "readonly"}},
		{Attrs: map[string]string{"value": "no id, skipped"}},
	}
	f.page.Lists[`label[for="amount"]`] = []*browsertest.Element{{TextVal: "ctl_Amount"}}

	result := f.wf.Run(context.Background(), testUser)

	assert.True(t, result.OK)
	assert.True(t, f.sink.has("Amount: 1500 (editable)"), "label resolved and prefix stripped")
	assert.True(t, f.sink.has("status: open (read-only)"), "missing label falls back to the id")

	for _, status := range f.sink.statuses {
		assert.NotContains(t, status, "opaque-blob")
		assert.NotContains(t, status, "deadbeef")
	}
}

func TestValueEntryTimesOut(t *testing.T) {
	f := newFixture(t, testTable())
	f.installStages()
	field, _ := f.installEntryControls()

	result := f.wf.Run(context.Background(), testUser)

	assert.False(t, result.OK)
	assert.Equal(t, types.ReasonUnknown, result.Reason)
	assert.Empty(t, field.Filled)
	assert.True(t, f.sink.has("No value entered"))
}

func TestMissingEntryControlsMeansAlreadySaved(t *testing.T) {
	f := newFixture(t, testTable())
	f.installStages()
	// No value field or save button on the final page.

	result := f.wf.Run(context.Background(), testUser)

	assert.True(t, result.OK)
	assert.True(t, f.sink.has("Form controls not found. Data may have been saved already."))
}

func TestInvisibleEntryControlsMeanAlreadySaved(t *testing.T) {
	f := newFixture(t, testTable())
	f.installStages()
	field, _ := f.installEntryControls()
	field.Invisible = true

	result := f.wf.Run(context.Background(), testUser)

	assert.True(t, result.OK)
	assert.True(t, f.sink.has("Form controls not visible. Data may have been saved already."))
}

func TestNoEntryStepConfigured(t *testing.T) {
	table := testTable()
	table.ValueField = ""
	table.SaveButton = ""

	f := newFixture(t, table)
	f.installStages()

	result := f.wf.Run(context.Background(), testUser)
	assert.True(t, result.OK)
}

func TestRunWithoutSession(t *testing.T) {
	sink := &statusSink{}
	registry := session.NewRegistryWithLauncher(func() (browser.Page, *browser.Handles, error) {
		return nil, nil, errors.New("engine down")
	})
	wf, err := New(fastConfig(), registry, testTable(), prompt.NewChannel(), sink)
	require.NoError(t, err)

	result := wf.Run(context.Background(), testUser)

	assert.False(t, result.OK)
	assert.Equal(t, types.ReasonUnknown, result.Reason)
	assert.True(t, sink.has("Operations failed: no browser session"))
}
