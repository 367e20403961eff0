package config

import (
	"encoding/json"
	"testing"

	"go.viam.com/test"
)

func TestSchema(t *testing.T) {
	data, err := json.Marshal(Schema())
	test.That(t, err, test.ShouldBeNil)

	var doc struct {
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
		Defs       map[string]struct {
			Properties map[string]struct {
				Type string   `json:"type"`
				Enum []string `json:"enum"`
			} `json:"properties"`
		} `json:"$defs"`
	}
	test.That(t, json.Unmarshal(data, &doc), test.ShouldBeNil)
	test.That(t, doc.Required, test.ShouldResemble, []string{"output_dir"})
	test.That(t, doc.Properties, test.ShouldContainKey, "recorder")
	test.That(t, doc.Properties, test.ShouldNotContainKey, "ConfigFilePath")

	export := doc.Defs["ExportConfig"].Properties["format"]
	test.That(t, export.Enum, test.ShouldResemble, []string{"pcd", "las", "ply"})
	level := doc.Defs["LogConfig"].Properties["level"]
	test.That(t, level.Type, test.ShouldEqual, "string")
	test.That(t, level.Enum, test.ShouldContain, "debug")
}
