// Package config loads pilot's process configuration and its project
// templates.
//
// # Configuration
//
// Config is read from a YAML file over built-in defaults, then overlaid
// with PILOT_* environment variables and validated:
//
//	cfg, err := config.Load("pilot.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Recognised overrides include PILOT_SERVER_ADDR, PILOT_STORE_PATH,
// PILOT_TEMPLATES_DIR, PILOT_POLICY_ENABLED and PILOT_LOG_LEVEL. List values
// such as PILOT_SERVER_ALLOWED_ORIGINS are comma separated.
//
// # Templates
//
// A project template is a CUE file declaring a single template value:
//
//	template: {
//	    name: "service"
//	    steps: [
//	        {name: "scaffold", script: "emit('hi')"},
//	        {name: "build", depends_on: ["scaffold"], script: "built = True"},
//	    ]
//	}
//
// Every file is unified with a closed #Template schema before its steps are
// decoded and ordered by their dependencies. Errors carry file, line and
// column. Templates embeds a "default" template and adds any *.cue files
// from TemplatesConfig.Dir; with Watch set the directory is reloaded on
// change, and a reload that fails keeps the previous templates.
package config
