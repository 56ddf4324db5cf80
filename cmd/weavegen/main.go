package main

import (
	"fmt"
	"go/importer"
	"go/token"
	"go/types"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		outPkg    string
		out       string
		namespace string
	)

	cmd := &cobra.Command{
		Use:   "weavegen [source package] [Iface[->Wrapper]]...",
		Short: "Generate woven wrappers for Go interfaces",
		Long: `weavegen writes a wrapper type for each selected interface of the source package.
Every wrapper method builds a call site and dispatches through a *weave.Weaver, so
registered advice runs around the wrapped implementation.

Without interface arguments every named interface of the package is wrapped and the
wrapper is called <Iface>Woven.`,
		Version:      version,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcPkg, err := parseSrcPackage(args[0])
			if err != nil {
				return fmt.Errorf("failed to parse package: %w", err)
			}

			wrappers, err := findWrappersToGenerate(srcPkg, parseWrapperOptions(args[1:]))
			if err != nil {
				return fmt.Errorf("failed to find interfaces to generate: %w", err)
			}

			dstPkgName := srcPkg.Name()
			if outPkg != "" {
				dstPkgName = outPkg
			}

			code, err := generate(config{
				DstPkgName: dstPkgName,
				SrcPkg:     srcPkg,
				Namespace:  namespace,
				Wrappers:   wrappers,
			})
			if err != nil {
				return fmt.Errorf("failed to generate code: %w", err)
			}

			return writeCode(cmd.OutOrStdout(), out, code)
		},
	}

	cmd.Flags().StringVar(&outPkg, "pkg", "", "Package name of the generated code, defaults to the source package name")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file, defaults to stdout")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace of generated call sites, defaults to the source package name")

	return cmd
}

func writeCode(stdout io.Writer, path, code string) error {
	if path == "" {
		_, err := io.WriteString(stdout, code)
		return err
	}
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// parseSrcPackage type-checks the package at path, resolved from the working
// directory so module and relative paths work
func parseSrcPackage(path string) (*types.Package, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "working directory")
	}
	imp := importer.ForCompiler(token.NewFileSet(), "source", nil).(types.ImporterFrom)
	return imp.ImportFrom(path, dir, 0)
}

// parseWrapperOptions reads "Iface" or "Iface->Wrapper" arguments
func parseWrapperOptions(options []string) map[string]string {
	names := make(map[string]string, len(options))
	for _, option := range options {
		iface, wrapper, _ := strings.Cut(option, "->")
		names[strings.TrimSpace(iface)] = strings.TrimSpace(wrapper)
	}
	return names
}

func findWrappersToGenerate(pkg *types.Package, options map[string]string) ([]wrapperConfig, error) {
	ifaces := findNamedInterfaces(pkg)
	if len(options) == 0 {
		wrappers := make([]wrapperConfig, 0, len(ifaces))
		for name, iface := range ifaces {
			wrappers = append(wrappers, wrapperConfig{IfaceName: name, Iface: iface, WrapperName: name + "Woven"})
		}
		return wrappers, nil
	}

	wrappers := make([]wrapperConfig, 0, len(options))
	for name, wrapper := range options {
		iface, found := ifaces[name]
		if !found {
			return nil, errors.Errorf("interface='%s' not found", name)
		}
		if wrapper == "" {
			wrapper = name + "Woven"
		}
		wrappers = append(wrappers, wrapperConfig{IfaceName: name, Iface: iface, WrapperName: wrapper})
	}
	return wrappers, nil
}

func findNamedInterfaces(pkg *types.Package) map[string]*types.Interface {
	items := map[string]*types.Interface{}
	scope := pkg.Scope()
	for _, name := range scope.Names() {
		obj, ok := scope.Lookup(name).(*types.TypeName)
		if !ok || !obj.Exported() {
			continue
		}
		named, ok := obj.Type().(*types.Named)
		if !ok || named.TypeParams().Len() > 0 {
			continue
		}
		if iface, ok := named.Underlying().(*types.Interface); ok && iface.NumMethods() > 0 {
			items[name] = iface
		}
	}
	return items
}
