// Package locators holds the site-specific selector table. The orchestration
// core is site-agnostic; everything it touches on the page is named here and
// injected at construction.
package locators

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Stage is one step of the post-login pipeline: a named control to click.
type Stage struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
}

// Table maps semantic field names to site-specific selectors.
type Table struct {
	// Login page fields.
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CaptchaImage string `yaml:"captcha_img"`
	CaptchaInput string `yaml:"captcha_input"`
	LoginButton  string `yaml:"login_button"`

	// LoginFailure locates the banner the site renders on a rejected login.
	LoginFailure string `yaml:"login_failure"`

	// LoginSuccess locators are probed in order; the first present wins.
	LoginSuccess []string `yaml:"login_success"`

	// Stages are the fixed post-login page transitions, in order.
	Stages []Stage `yaml:"stages"`

	// ValueField and SaveButton locate the optional data-entry controls on
	// the final page. Their absence means the value was already saved.
	ValueField string `yaml:"value_field"`
	SaveButton string `yaml:"save_button"`

	// DeniedFields are glob patterns matching input ids to skip during form
	// extraction (tracking, viewstate and other technical fields).
	DeniedFields []string `yaml:"denied_fields"`

	// LabelPrefix is stripped from resolved field labels before reporting.
	LabelPrefix string `yaml:"label_prefix"`
}

// Load reads and validates a locator table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locator file: %w", err)
	}

	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse locator file: %w", err)
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// Validate checks that every selector the login protocol depends on is set.
func (t *Table) Validate() error {
	required := map[string]string{
		"username":      t.Username,
		"password":      t.Password,
		"captcha_img":   t.CaptchaImage,
		"captcha_input": t.CaptchaInput,
		"login_button":  t.LoginButton,
		"login_failure": t.LoginFailure,
	}
	for name, selector := range required {
		if selector == "" {
			return fmt.Errorf("locator table missing required selector %q", name)
		}
	}
	if len(t.LoginSuccess) == 0 {
		return fmt.Errorf("locator table needs at least one login_success selector")
	}
	for i, stage := range t.Stages {
		if stage.Name == "" || stage.Selector == "" {
			return fmt.Errorf("stage %d needs both name and selector", i+1)
		}
	}
	return nil
}
