// Package config loads intercept rules from YAML.
//
// A rule file lists named pointcuts and rules. Each rule references advice from a
// Catalog by name, optionally restricted to one kind, with free-form options:
//
//	pointcuts:
//	  - name: demoApp
//	    pattern: "* xyz.demo.App.*(..)"
//	rules:
//	  - name: general
//	    pointcut: demoApp()
//	    advice:
//	      - name: logging
//	        options: {level: debug}
//	      - name: timing
//	  - name: require-name
//	    pointcut: "@annotation(RequireName)"
//	    advice:
//	      - name: requireArg
//	        options: {arg: name}
//
// Options are decoded with mapstructure into the advice's option struct; durations
// may be written as "250ms" or "2s".
package config
