package util

import (
	"reflect"

	"github.com/pkg/errors"
)

// IsStructInitialized 检查结构体的指针与接口字段是否全部初始化
// 标记 `wire:"-"` 的字段由调用方在注入之外单独初始化，跳过检查
func IsStructInitialized(s interface{}) error {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return errors.New("not a struct")
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if tag, ok := t.Field(i).Tag.Lookup("wire"); ok && tag == "-" {
			continue
		}

		switch field.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Chan, reflect.Func:
			if field.IsNil() {
				return errors.Errorf("field %s is not initialized", t.Field(i).Name)
			}
		default:
		}
	}

	return nil
}
