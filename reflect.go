package objdb

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/andreyvit/objdb/cell"
)

var (
	objectType           = reflect.TypeFor[Object]()
	modelType            = reflect.TypeFor[Model]()
	dynamicObjectPtrType = reflect.TypeFor[*DynamicObject]()
	cellValueType        = reflect.TypeFor[cell.Value]()
)

var modelTablesByType sync.Map // reflect.Type -> *Table

// checkModelType reports why rt cannot be used as a model.
func checkModelType(rt reflect.Type) []string {
	if rt.Kind() != reflect.Struct {
		return []string{fmt.Sprintf("%v is not a struct", rt)}
	}
	var problems []string
	if strings.Contains(rt.Name(), "[") {
		problems = append(problems, fmt.Sprintf("%v is generic; model types must be instantiable by the runtime", rt))
	}
	if !embedsObject(rt) {
		problems = append(problems, fmt.Sprintf("%v must embed objdb.Object by value", rt))
	} else if !reflect.PointerTo(rt).Implements(modelType) {
		problems = append(problems, fmt.Sprintf("*%v does not implement objdb.Model", rt))
	}
	return problems
}

func embedsObject(rt reflect.Type) bool {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.Anonymous && f.Type == objectType {
			return true
		}
	}
	return false
}

// modelTarget returns the struct type of a link: vt must be a pointer to a
// struct that embeds Object.
func modelTarget(vt reflect.Type) reflect.Type {
	if vt.Kind() != reflect.Pointer {
		return nil
	}
	et := vt.Elem()
	if et.Kind() != reflect.Struct || !embedsObject(et) {
		return nil
	}
	return et
}

func registerModelTable(rt reflect.Type, tbl *Table) {
	modelTablesByType.LoadOrStore(rt, tbl)
}

// modelTable finds the table a typed model was defined as. A type defined
// in several schemas resolves to the first definition.
func modelTable(m Model) *Table {
	rt := reflect.TypeOf(m)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if v, ok := modelTablesByType.Load(rt); ok {
		return v.(*Table)
	}
	return nil
}
