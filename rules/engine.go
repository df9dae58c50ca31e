package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type Engine struct {
	RuleSets map[string]RuleSet
	Rules    []CompiledRule
}

func New() *Engine {
	return &Engine{
		RuleSets: map[string]RuleSet{},
	}
}

// CapabilityValues are expr programs evaluated against the Input when a
// rule matches, keyed by value name.
type CapabilityValues map[string]string

type CompiledCapabilityValues map[string]*vm.Program

type Capabilities struct {
	Add    map[string]CapabilityValues
	Remove map[string]CapabilityValues
}

type Actions struct {
	Capabilities Capabilities
}

type CompiledCapabilities struct {
	Add    map[string]CompiledCapabilityValues
	Remove map[string]CompiledCapabilityValues
}

type CompiledActions struct {
	Capabilities CompiledCapabilities
}

type Rule struct {
	Description string
	Filter      string
	Actions     Actions
	Children    []Rule
}

type CompiledRule struct {
	Description string
	Filter      *vm.Program
	Actions     CompiledActions
	Children    []CompiledRule
}

type RuleSet struct {
	Name      string
	DependsOn []string
	Rules     []Rule
}

// InputNode carries the identity a node reported during its interview.
type InputNode struct {
	ManufacturerID uint16
	ProductTypeID  uint16
	ProductID      uint16
	Listening      bool
}

// InputEndpoint is one endpoint's advertised command classes, by number.
type InputEndpoint struct {
	ID             int
	Generic        int
	Specific       int
	CommandClasses []int
}

// Input is the environment rule filters evaluate against: Self selects
// the endpoint under consideration within Endpoint.
type Input struct {
	Self     int
	Node     InputNode
	Endpoint map[int]InputEndpoint
}

// Output lists the capability implementations to attach, each with its
// evaluated settings.
type Output struct {
	Capabilities map[string]Settings
}

func (e *Engine) LoadString(s string) error {
	return e.LoadReader(strings.NewReader(s))
}

// LoadReader decodes one JSON encoded RuleSet and registers it by name.
func (e *Engine) LoadReader(r io.Reader) error {
	var rs RuleSet

	if err := json.NewDecoder(r).Decode(&rs); err != nil {
		return fmt.Errorf("ruleset decode: %w", err)
	}

	if rs.Name == "" {
		return fmt.Errorf("ruleset decode: missing name")
	}

	e.RuleSets[rs.Name] = rs

	return nil
}

// LoadFS loads every .json file in the file system as a RuleSet.
func (e *Engine) LoadFS(fileSystem fs.FS) error {
	return fs.WalkDir(fileSystem, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}

		f, err := fileSystem.Open(p)
		if err != nil {
			return fmt.Errorf("ruleset open: %s: %w", p, err)
		}
		defer f.Close()

		if err := e.LoadReader(f); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}

		return nil
	})
}

// CompileRules compiles all loaded rulesets into Rules, ordering each
// ruleset after those it depends upon.
func (e *Engine) CompileRules() error {
	alreadyLoaded := map[string]bool{}

	for k := range e.RuleSets {
		alreadyLoaded[k] = false
	}

	for k := range e.RuleSets {
		if !alreadyLoaded[k] {
			if err := e.compileRuleSet(alreadyLoaded, []string{}, k); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) compileRuleSet(alreadyLoaded map[string]bool, trail []string, name string) error {
	rs, ok := e.RuleSets[name]
	if !ok {
		return fmt.Errorf("ruleset missing dependency: %s->%s", strings.Join(trail, "->"), name)
	}

	trail = append(trail, rs.Name)

	for _, k := range rs.DependsOn {
		for _, t := range trail {
			if k == t {
				return fmt.Errorf("ruleset circular dependency: %s->%s", strings.Join(trail, "->"), k)
			}
		}

		if !alreadyLoaded[k] {
			if err := e.compileRuleSet(alreadyLoaded, trail, k); err != nil {
				return err
			}
		}
	}

	if cr, err := compileRules(rs.Rules); err != nil {
		return fmt.Errorf("ruleset compilation: %s: %w", strings.Join(trail, "->"), err)
	} else {
		e.Rules = append(e.Rules, cr...)
	}

	alreadyLoaded[name] = true

	return nil
}

func compileRules(rules []Rule) ([]CompiledRule, error) {
	var compiledRules []CompiledRule

	for _, rule := range rules {
		cf, err := expr.Compile(rule.Filter, expr.Env(Input{}))
		if err != nil {
			return nil, fmt.Errorf("filter compilation: %w", err)
		}

		ca, err := compileActions(rule.Actions)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rule.Description, err)
		}

		if childCompiledRules, err := compileRules(rule.Children); err != nil {
			return nil, fmt.Errorf("%s: %w", rule.Description, err)
		} else {
			compiledRules = append(compiledRules, CompiledRule{
				Description: rule.Description,
				Filter:      cf,
				Actions:     ca,
				Children:    childCompiledRules,
			})
		}
	}

	return compiledRules, nil
}

func compileActions(a Actions) (CompiledActions, error) {
	ca := CompiledActions{
		Capabilities: CompiledCapabilities{
			Add:    map[string]CompiledCapabilityValues{},
			Remove: map[string]CompiledCapabilityValues{},
		},
	}

	for capName, values := range a.Capabilities.Add {
		cv, err := compileValues(values)
		if err != nil {
			return ca, fmt.Errorf("capability %s: %w", capName, err)
		}

		ca.Capabilities.Add[capName] = cv
	}

	for capName, values := range a.Capabilities.Remove {
		cv, err := compileValues(values)
		if err != nil {
			return ca, fmt.Errorf("capability %s: %w", capName, err)
		}

		ca.Capabilities.Remove[capName] = cv
	}

	return ca, nil
}

func compileValues(values CapabilityValues) (CompiledCapabilityValues, error) {
	if values == nil {
		return nil, nil
	}

	cv := CompiledCapabilityValues{}

	for k, source := range values {
		p, err := expr.Compile(source, expr.Env(Input{}))
		if err != nil {
			return nil, fmt.Errorf("value %s compilation: %w", k, err)
		}

		cv[k] = p
	}

	return cv, nil
}

// Execute evaluates all compiled rules against the input. Rules apply in
// order; a rule's children are only considered when the rule itself
// matched. Later removes override earlier adds.
func (e *Engine) Execute(i Input) (Output, error) {
	o := Output{
		Capabilities: map[string]Settings{},
	}

	if err := executeRules(e.Rules, i, &o); err != nil {
		return o, err
	}

	return o, nil
}

func executeRules(rules []CompiledRule, i Input, o *Output) error {
	for _, rule := range rules {
		result, err := expr.Run(rule.Filter, i)
		if err != nil {
			return fmt.Errorf("%s: filter execution: %w", rule.Description, err)
		}

		matched, ok := result.(bool)
		if !ok {
			return fmt.Errorf("%s: filter execution: non boolean result", rule.Description)
		}

		if !matched {
			continue
		}

		for capName, values := range rule.Actions.Capabilities.Add {
			evaluated := Settings{}

			for k, p := range values {
				v, err := expr.Run(p, i)
				if err != nil {
					return fmt.Errorf("%s: value %s execution: %w", rule.Description, k, err)
				}

				evaluated[k] = v
			}

			o.Capabilities[capName] = evaluated
		}

		for capName := range rule.Actions.Capabilities.Remove {
			delete(o.Capabilities, capName)
		}

		if err := executeRules(rule.Children, i, o); err != nil {
			return err
		}
	}

	return nil
}
