// Copyright 2024 The kubegems.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// GenerateConfig renders options as a commented yaml config file, comments come from "head_comment" and "line_comment" tags.
func GenerateConfig(opt interface{}) ([]byte, error) {
	return yaml.Marshal(getYamlNode(opt))
}

func getYamlNode(v interface{}) *yaml.Node {
	node := &yaml.Node{}
	vv := reflect.ValueOf(v)
	switch vv.Kind() {
	case reflect.Ptr:
		if vv.IsNil() {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"}
		}
		node = getYamlNode(vv.Elem().Interface())
	case reflect.Map:
		node.Kind = yaml.MappingNode
		nodes := []*yaml.Node{}
		keys := vv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			nodes = append(nodes, &yaml.Node{
				Kind:  yaml.ScalarNode,
				Value: k.String(),
			})
			nodes = append(nodes, getYamlNode(vv.MapIndex(k).Interface()))
		}
		node.Content = nodes
	case reflect.Array, reflect.Slice:
		nodes := []*yaml.Node{}
		for idx := 0; idx < vv.Len(); idx++ {
			nodes = append(nodes, getYamlNode(vv.Index(idx).Interface()))
		}
		node.Kind = yaml.SequenceNode
		node.Content = nodes
	case reflect.Struct:
		node.Kind = yaml.MappingNode
		nodes := []*yaml.Node{}
		t := reflect.TypeOf(v)
		for idx := 0; idx < t.NumField(); idx++ {
			field := t.FieldByIndex([]int{idx})
			fieldname, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if fieldname == "-" {
				continue
			}
			if len(fieldname) == 0 {
				fieldname = strings.ToLower(t.FieldByIndex([]int{idx}).Name)
			}
			if !vv.FieldByIndex([]int{idx}).CanInterface() {
				continue
			}
			nodes = append(nodes, &yaml.Node{
				Kind:        yaml.ScalarNode,
				Value:       fieldname,
				HeadComment: field.Tag.Get("head_comment"),
				LineComment: field.Tag.Get("line_comment"),
			})
			nodes = append(nodes, getYamlNode(vv.FieldByIndex([]int{idx}).Interface()))
		}
		node.Content = nodes
	default:
		node.Kind = yaml.ScalarNode
		node.Value = fmt.Sprintf("%v", vv.Interface())
	}
	return node
}
