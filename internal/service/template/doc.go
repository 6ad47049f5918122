// Package template manages named, persisted mapping configurations that
// uploads can reference instead of inlining a mapping_config.
package template
