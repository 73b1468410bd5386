package listing

import (
	"fmt"

	"github.com/beevik/etree"
)

// Serialize writes root as an indented UTF-8 document with an XML declaration.
func Serialize(root *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(root)
	doc.Indent(2)

	output, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize XML: %w", err)
	}
	return output, nil
}
