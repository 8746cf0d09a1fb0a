package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Catalog 按名字索引的游戏集合；启动时加载，之后只读
type Catalog struct {
	games map[string]*Game
}

func NewCatalog(games ...*Game) *Catalog {
	c := &Catalog{games: make(map[string]*Game, len(games))}
	for _, g := range games {
		c.games[g.Name()] = g
	}
	return c
}

// LoadDir 加载目录下所有 *.yaml / *.yml；单个文件出错只记日志并跳过
func LoadDir(dir string, log *zap.SugaredLogger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read games dir: %w", err)
	}
	c := NewCatalog()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("skip game %s: %v", path, err)
			continue
		}
		g, err := Parse(raw)
		if err != nil {
			log.Warnf("skip game %s: %v", path, err)
			continue
		}
		if _, dup := c.games[g.Name()]; dup {
			log.Warnf("skip game %s: duplicate name %q", path, g.Name())
			continue
		}
		c.games[g.Name()] = g
		log.Infof("loaded game %q from %s (%d templates)", g.Name(), path, len(g.templates))
	}
	return c, nil
}

func (c *Catalog) Get(name string) (*Game, error) {
	g, ok := c.games[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGameNotFound, name)
	}
	return g, nil
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.games))
	for n := range c.games {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Len() int { return len(c.games) }
