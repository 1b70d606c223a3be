package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona describes an agent type: its system prompt and tools.
//
// Instruction is a text/template rendered when the agent is created. The
// zigbee persona receives {{.devices}} and {{.bedroom_temp}}.
type Persona struct {
	Name          string   `yaml:"-"`
	Description   string   `yaml:"description"`
	Instruction   string   `yaml:"instruction"`
	IncludeTime   bool     `yaml:"include_time"`
	Model         string   `yaml:"model,omitempty"`
	MaxIterations int      `yaml:"max_iterations,omitempty"`
	Tools         []string `yaml:"tools"`
}

type personasFile struct {
	Agents map[string]Persona `yaml:"agents"`
}

// Tool names a persona may list besides call_<persona>_agent.
var knownTools = map[string]bool{
	"get_zigbee_devices": true,
	"set_zigbee_devices": true,
}

const homeInstruction = `You are a home assistant with access to a Zigbee smart home agent that controls lights, plugs and thermostats. ` +
	`Be as concise as possible, because your responses are to be read aloud.`

const zigbeeInstruction = `You are a Zigbee smart home assistant. You help users control their smart home devices.

You have access to the following devices:

{{.devices}}

The current bedroom temperature is {{default "unknown" .bedroom_temp}}.

When controlling devices:
- Use get_zigbee_devices to check current state of devices (power, brightness, temperature, etc.)
- Use set_zigbee_devices to control one or multiple devices
- You can set state (ON/OFF/TOGGLE), brightness (0-254), and/or color_temp (153-500 mireds)
- For color temperature, lower values (153) are cooler/bluer, higher values (500) are warmer/yellower
- When controlling multiple devices with the same settings, pass ALL device names in a single tool call

Be very concise in your responses. They are read aloud, so avoid unnecessary words or phrases.`

// DefaultPersonas returns the built-in home and zigbee personas.
func DefaultPersonas() map[string]Persona {
	return map[string]Persona{
		"home": {
			Name:        "home",
			Description: "Household assistant that delegates device control.",
			Instruction: homeInstruction,
			IncludeTime: true,
			Tools:       []string{DelegateToolName("zigbee")},
		},
		"zigbee": {
			Name:        "zigbee",
			Description: "Controls Zigbee lights, plugs and sensors.",
			Instruction: zigbeeInstruction,
			IncludeTime: true,
			Tools:       []string{"get_zigbee_devices", "set_zigbee_devices"},
		},
	}
}

// DelegateToolName names the tool that hands a prompt to another persona.
func DelegateToolName(persona string) string {
	return "call_" + persona + "_agent"
}

// DelegateTarget reports the persona a delegate tool name points at.
func DelegateTarget(toolName string) (string, bool) {
	if !strings.HasPrefix(toolName, "call_") || !strings.HasSuffix(toolName, "_agent") {
		return "", false
	}
	target := strings.TrimSuffix(strings.TrimPrefix(toolName, "call_"), "_agent")
	return target, target != ""
}

// LoadPersonas reads a YAML personas file of the form
//
//	agents:
//	  zigbee:
//	    instruction: ...
//	    tools: [get_zigbee_devices]
func LoadPersonas(path string) (map[string]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var file personasFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}

	out := make(map[string]Persona, len(file.Agents))
	for name, p := range file.Agents {
		p.Name = name
		out[name] = p
	}
	return out, nil
}

func (c *Config) validatePersona(name string, p Persona) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("persona name cannot be empty")
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("persona %s: max_iterations must be >= 0", name)
	}
	seen := map[string]bool{}
	for _, t := range p.Tools {
		if seen[t] {
			return fmt.Errorf("persona %s: tool %s listed twice", name, t)
		}
		seen[t] = true

		if knownTools[t] {
			continue
		}
		target, ok := DelegateTarget(t)
		if !ok {
			return fmt.Errorf("persona %s: unknown tool %q", name, t)
		}
		if target == name {
			return fmt.Errorf("persona %s: cannot delegate to itself", name)
		}
		if _, ok := c.Personas[target]; !ok {
			return fmt.Errorf("persona %s: tool %s targets unknown persona %q", name, t, target)
		}
	}
	return nil
}
