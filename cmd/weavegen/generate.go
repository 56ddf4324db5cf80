package main

import (
	"bytes"
	"fmt"
	"go/format"
	"go/types"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

const (
	contractsPath = "github.com/glimte/weave-go/contracts"
	weavePath     = "github.com/glimte/weave-go"
)

// wrapperConfig selects one interface to wrap
type wrapperConfig struct {
	IfaceName   string
	Iface       *types.Interface
	WrapperName string
}

// config is the input of generate
type config struct {
	DstPkgName string
	SrcPkg     *types.Package
	Namespace  string
	Wrappers   []wrapperConfig
}

type fileData struct {
	Package    string
	StdImports []string
	Imports    []string
	Wrappers   []wrapperData
}

type wrapperData struct {
	Name      string
	Iface     string
	IfaceName string
	Methods   []methodData
}

type methodData struct {
	Name      string
	Signature string
	Results   string
	Path      string
	Returns   string
	Ctx       string
	Args      []argData
	Body      string
}

type argData struct {
	Name string
	Type string
}

var fileTemplate = template.Must(template.New("file").Parse(`// Code generated by weavegen. DO NOT EDIT.

package {{.Package}}

import (
{{- range .StdImports}}
	{{.}}
{{- end}}
{{range .Imports}}
	{{.}}
{{- end}}
)
{{range $w := .Wrappers}}
// {{$w.Name}} routes every {{$w.IfaceName}} call through a weaver
type {{$w.Name}} struct {
	next   {{$w.Iface}}
	weaver *weave.Weaver
}

// New{{$w.Name}} wraps next
func New{{$w.Name}}(next {{$w.Iface}}, weaver *weave.Weaver) *{{$w.Name}} {
	return &{{$w.Name}}{next: next, weaver: weaver}
}
{{range $m := $w.Methods}}
// {{$m.Name}} implements {{$w.IfaceName}}
func (w *{{$w.Name}}) {{$m.Name}}({{$m.Signature}}) {{$m.Results}} {
	site := contracts.NewCallSite({{printf "%q" $m.Path}}{{range $m.Args}},
		contracts.Arg{Name: {{printf "%q" .Name}}, Type: {{printf "%q" .Type}}, Value: {{.Name}}}{{end}},
	){{if $m.Returns}}.WithReturns({{printf "%q" $m.Returns}}){{end}}
{{$m.Body}}
}
{{end}}{{end}}`))

// generate renders the wrapper types of cfg as formatted Go source
func generate(cfg config) (string, error) {
	if len(cfg.Wrappers) == 0 {
		return "", errors.New("no interfaces to generate")
	}

	samePkg := cfg.DstPkgName == cfg.SrcPkg.Name()
	imports := map[string]string{
		"context":     "context",
		contractsPath: "contracts",
		weavePath:     "weave",
	}

	qualifier := func(pkg *types.Package) string {
		if samePkg && pkg.Path() == cfg.SrcPkg.Path() {
			return ""
		}
		imports[pkg.Path()] = pkg.Name()
		return pkg.Name()
	}
	short := func(pkg *types.Package) string {
		if pkg.Path() == cfg.SrcPkg.Path() {
			return ""
		}
		return pkg.Name()
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = cfg.SrcPkg.Name()
	}

	data := fileData{Package: cfg.DstPkgName}
	wrappers := append([]wrapperConfig(nil), cfg.Wrappers...)
	sort.Slice(wrappers, func(i, j int) bool { return wrappers[i].IfaceName < wrappers[j].IfaceName })

	for _, wc := range wrappers {
		iface := wc.IfaceName
		if !samePkg {
			iface = qualifier(cfg.SrcPkg) + "." + wc.IfaceName
		}
		w := wrapperData{Name: wc.WrapperName, Iface: iface, IfaceName: wc.IfaceName}

		for i := 0; i < wc.Iface.NumMethods(); i++ {
			fn := wc.Iface.Method(i)
			if !fn.Exported() {
				return "", errors.Errorf("interface %s has unexported method %s", wc.IfaceName, fn.Name())
			}
			m, err := buildMethod(fn, namespace+"."+wc.IfaceName, qualifier, short)
			if err != nil {
				return "", errors.Wrapf(err, "interface %s", wc.IfaceName)
			}
			w.Methods = append(w.Methods, m)
		}
		data.Wrappers = append(data.Wrappers, w)
	}

	paths := make([]string, 0, len(imports))
	for path := range imports {
		if samePkg && path == cfg.SrcPkg.Path() {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		name := imports[path]
		spec := strconv.Quote(path)
		if !strings.HasSuffix(path, "/"+name) && path != name {
			spec = name + " " + spec
		}
		if isStdLib(path) {
			data.StdImports = append(data.StdImports, spec)
		} else {
			data.Imports = append(data.Imports, spec)
		}
	}

	var buf bytes.Buffer
	if err := fileTemplate.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "render template")
	}

	code, err := format.Source(buf.Bytes())
	if err != nil {
		return "", errors.Wrapf(err, "format generated code:\n%s", buf.String())
	}
	return string(code), nil
}

var reserved = map[string]bool{
	"w": true, "site": true, "result": true, "err": true, "ctx": true,
	"values": true, "ok": true, "contracts": true, "weave": true, "context": true,
}

var resultName = regexp.MustCompile(`^ret\d+$`)

func buildMethod(fn *types.Func, typePath string, qualifier, short types.Qualifier) (methodData, error) {
	sig := fn.Type().(*types.Signature)
	m := methodData{Name: fn.Name(), Path: typePath + "." + fn.Name(), Ctx: "context.Background()"}

	params := sig.Params()
	var decl, callArgs []string
	for i := 0; i < params.Len(); i++ {
		p := params.At(i)
		typ := types.TypeString(p.Type(), qualifier)
		variadic := sig.Variadic() && i == params.Len()-1

		if i == 0 && isContext(p.Type()) {
			m.Ctx = "ctx"
			decl = append(decl, "ctx "+typ)
			callArgs = append(callArgs, "ctx")
			continue
		}

		name := p.Name()
		if name == "" || name == "_" || reserved[name] || resultName.MatchString(name) {
			name = "p" + strconv.Itoa(i)
		}

		if variadic {
			elem := types.TypeString(p.Type().(*types.Slice).Elem(), qualifier)
			decl = append(decl, name+" ..."+elem)
			callArgs = append(callArgs, name+"...")
		} else {
			decl = append(decl, name+" "+typ)
			callArgs = append(callArgs, name)
		}
		m.Args = append(m.Args, argData{Name: name, Type: types.TypeString(p.Type(), short)})
	}
	m.Signature = strings.Join(decl, ", ")

	results := sig.Results()
	hasErr := results.Len() > 0 && isError(results.At(results.Len()-1).Type())
	n := results.Len()
	if hasErr {
		n--
	}

	var retNames, retTypes, resultDecl []string
	for i := 0; i < n; i++ {
		name := "ret" + strconv.Itoa(i)
		typ := types.TypeString(results.At(i).Type(), qualifier)
		retNames = append(retNames, name)
		retTypes = append(retTypes, typ)
		resultDecl = append(resultDecl, name+" "+typ)
	}
	if hasErr {
		resultDecl = append(resultDecl, "err error")
	}
	if len(resultDecl) > 0 {
		m.Results = "(" + strings.Join(resultDecl, ", ") + ")"
	}
	if n == 1 {
		m.Returns = types.TypeString(results.At(0).Type(), short)
	}

	m.Body = methodBody(m, "w.next."+fn.Name()+"("+strings.Join(callArgs, ", ")+")", retNames, retTypes, hasErr)
	return m, nil
}

func methodBody(m methodData, call string, retNames, retTypes []string, hasErr bool) string {
	var b strings.Builder
	n := len(retNames)

	returnWith := func(errExpr string) string {
		values := append([]string(nil), retNames...)
		if hasErr {
			values = append(values, errExpr)
		}
		return "return " + strings.Join(values, ", ")
	}
	fail := func(errExpr string) string {
		if hasErr {
			return returnWith(errExpr)
		}
		return "panic(" + errExpr + ")"
	}

	resultVar := "result"
	if n == 0 {
		resultVar = "_"
	}
	assign := ":="
	if hasErr && n == 0 {
		assign = "="
	}
	fmt.Fprintf(&b, "\t%s, err %s w.weaver.Call(%s, site, func(ctx context.Context) (any, error) {\n", resultVar, assign, m.Ctx)
	switch {
	case n == 0 && !hasErr:
		fmt.Fprintf(&b, "\t\t%s\n\t\treturn nil, nil\n", call)
	case n == 0:
		fmt.Fprintf(&b, "\t\treturn nil, %s\n", call)
	case n == 1:
		if hasErr {
			fmt.Fprintf(&b, "\t\treturn %s\n", call)
		} else {
			fmt.Fprintf(&b, "\t\treturn %s, nil\n", call)
		}
	default:
		outs := append([]string(nil), retNames...)
		if hasErr {
			outs = append(outs, "err")
		}
		fmt.Fprintf(&b, "\t\t%s := %s\n", strings.Join(outs, ", "), call)
		errExpr := "nil"
		if hasErr {
			errExpr = "err"
		}
		fmt.Fprintf(&b, "\t\treturn []any{%s}, %s\n", strings.Join(retNames, ", "), errExpr)
	}
	b.WriteString("\t})\n")
	fmt.Fprintf(&b, "\tif err != nil {\n\t\t%s\n\t}\n", fail("err"))

	switch {
	case n == 1:
		mismatch := fmt.Sprintf("&weave.ResultTypeError{Result: result, Want: %q}", retTypes[0])
		fmt.Fprintf(&b, "\tif result != nil {\n\t\tvar ok bool\n\t\tif ret0, ok = result.(%s); !ok {\n\t\t\t%s\n\t\t}\n\t}\n", retTypes[0], fail(mismatch))
	case n > 1:
		mismatch := `&weave.ResultTypeError{Result: result, Want: "[]any"}`
		fmt.Fprintf(&b, "\tvalues, ok := result.([]any)\n\tif !ok || len(values) != %d {\n\t\t%s\n\t}\n", n, fail(mismatch))
		for i, typ := range retTypes {
			fmt.Fprintf(&b, "\t%s, _ = values[%d].(%s)\n", retNames[i], i, typ)
		}
	}

	if hasErr || n > 0 {
		b.WriteString("\t" + returnWith("nil"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// isStdLib reports whether path looks like a standard library import path
func isStdLib(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return !strings.Contains(first, ".")
}

func isContext(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == "context" && obj.Name() == "Context"
}

func isError(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}
