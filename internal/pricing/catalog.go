package pricing

import (
	"sort"

	"github.com/idcstack/idc-control-plane/internal/model"
)

// Template is a predefined server offering a customer can start an order from.
type Template struct {
	ID            int                         `json:"id"`
	Name          string                      `json:"name"`
	Description   string                      `json:"description"`
	Configuration model.ResourceConfiguration `json:"configuration"`
}

type Catalog struct {
	byID map[int]Template
}

func NewCatalog(templates ...Template) *Catalog {
	c := &Catalog{byID: make(map[int]Template, len(templates))}
	for _, t := range templates {
		c.byID[t.ID] = t
	}
	return c
}

func DefaultCatalog() *Catalog {
	return NewCatalog(
		Template{ID: 1, Name: "starter", Description: "small sites and light workloads",
			Configuration: model.ResourceConfiguration{CPU: 1, Memory: 2, Disk: 50, Bandwidth: 100, Ports: 3}},
		Template{ID: 2, Name: "standard", Description: "mid-size business sites and apps",
			Configuration: model.ResourceConfiguration{CPU: 2, Memory: 4, Disk: 100, Bandwidth: 200, Ports: 5}},
		Template{ID: 3, Name: "performance", Description: "large apps and high concurrency",
			Configuration: model.ResourceConfiguration{CPU: 4, Memory: 16, Disk: 500, Bandwidth: 500, Ports: 10}},
		Template{ID: 4, Name: "enterprise", Description: "enterprise workloads and databases",
			Configuration: model.ResourceConfiguration{CPU: 8, Memory: 32, Disk: 1000, Bandwidth: 1000, Ports: 20}},
	)
}

func (c *Catalog) Get(id int) (Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// List returns templates ordered by id.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.byID))
	for _, t := range c.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
