// Package vault 实现基于本地目录的文档库，提供读写、前置字段解析与原子修改
package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrOutsideVault 路径越出文档库根目录
var ErrOutsideVault = errors.New("路径不在文档库内")

// Store 文档库接口
type Store interface {
	// List 返回所有文档的相对路径
	List() ([]string, error)
	Read(path string) (string, error)
	Write(path, content string) error
	// Create 新建文档，目标已存在时返回的错误满足 errors.Is(err, fs.ErrExist)
	Create(path, content string) error
	Exists(path string) bool
	// Frontmatter 返回文档的前置字段，没有时返回 nil
	Frontmatter(path string) (*Frontmatter, error)
	// MutateFrontmatter 原子地修改文档前置字段，没有前置字段时会新建
	MutateFrontmatter(path string, mutate func(fm *Frontmatter) error) error
}

// FSStore 本地目录文档库
type FSStore struct {
	root      string
	extension string
	excludes  []string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFSStore 创建本地目录文档库，excludes 为不参与枚举的相对目录
func NewFSStore(root, extension string, excludes ...string) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("解析文档库路径失败: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("文档库目录不可用: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("文档库路径不是目录: %s", abs)
	}

	if extension == "" {
		extension = ".md"
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	cleaned := make([]string, 0, len(excludes))
	for _, e := range excludes {
		e = strings.Trim(filepath.ToSlash(filepath.Clean(e)), "/")
		if e != "" && e != "." {
			cleaned = append(cleaned, e)
		}
	}

	return &FSStore{
		root:      abs,
		extension: strings.ToLower(extension),
		excludes:  cleaned,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Root 返回文档库绝对路径
func (s *FSStore) Root() string {
	return s.root
}

// Extension 返回文档扩展名
func (s *FSStore) Extension() string {
	return s.extension
}

// Excluded 判断相对路径是否位于排除目录中
func (s *FSStore) Excluded(rel string) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	for _, e := range s.excludes {
		if rel == e || strings.HasPrefix(rel, e+"/") {
			return true
		}
	}
	return false
}

// IsDocument 判断相对路径是否为需要处理的文档
func (s *FSStore) IsDocument(rel string) bool {
	return strings.ToLower(filepath.Ext(rel)) == s.extension && !s.Excluded(rel)
}

func (s *FSStore) List() ([]string, error) {
	var docs []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // 跳过无法访问的条目
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.IsDocument(rel) {
			docs = append(docs, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历文档库失败: %w", err)
	}

	sort.Strings(docs)
	return docs, nil
}

func (s *FSStore) Read(path string) (string, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	return readText(abs)
}

func (s *FSStore) Write(path, content string) error {
	abs, err := s.resolve(path)
	if err != nil {
		return err
	}

	lock := s.lockFor(abs)
	lock.Lock()
	defer lock.Unlock()

	return writeAtomic(abs, content)
}

func (s *FSStore) Create(path, content string) error {
	abs, err := s.resolve(path)
	if err != nil {
		return err
	}

	lock := s.lockFor(abs)
	lock.Lock()
	defer lock.Unlock()

	return createExclusive(abs, content)
}

func (s *FSStore) Exists(path string) bool {
	abs, err := s.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

func (s *FSStore) Frontmatter(path string) (*Frontmatter, error) {
	content, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	return ParseFrontmatter(content)
}

func (s *FSStore) MutateFrontmatter(path string, mutate func(fm *Frontmatter) error) error {
	abs, err := s.resolve(path)
	if err != nil {
		return err
	}

	lock := s.lockFor(abs)
	lock.Lock()
	defer lock.Unlock()

	content, err := readText(abs)
	if err != nil {
		return err
	}

	fm, err := ParseFrontmatter(content)
	if err != nil {
		return err
	}
	if fm == nil {
		fm = NewFrontmatter()
	}

	if err := mutate(fm); err != nil {
		return err
	}

	updated, err := fm.Apply(content)
	if err != nil {
		return err
	}
	return writeAtomic(abs, updated)
}

// resolve 将相对路径转换为文档库内的绝对路径
func (s *FSStore) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return "", ErrOutsideVault
		}
		path = rel
	}

	abs := filepath.Join(s.root, filepath.FromSlash(path))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, path)
	}
	return abs, nil
}

func (s *FSStore) lockFor(abs string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[abs]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[abs] = lock
	}
	return lock
}

// readText 读取文本文件，自动识别并去除 BOM（UTF-8 / UTF-16）
func readText(abs string) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("打开文档失败: %w", err)
	}
	defer f.Close()

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(transform.NewReader(f, decoder))
	if err != nil {
		return "", fmt.Errorf("读取文档失败: %w", err)
	}
	return string(data), nil
}

// writeAtomic 先写临时文件再重命名，避免读到半写入的内容
func writeAtomic(abs, content string) error {
	tmpName, err := writeTemp(abs, content)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换文档失败: %w", err)
	}
	return nil
}

// createExclusive 用硬链接把写好的临时文件放到目标位置，目标存在时失败，不会覆盖其他进程刚写入的文件
func createExclusive(abs, content string) error {
	tmpName, err := writeTemp(abs, content)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)

	err = os.Link(tmpName, abs)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}

	// 不支持硬链接的文件系统退回到 O_EXCL 直接写入
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(abs)
		return fmt.Errorf("写入文档失败: %w", err)
	}
	return f.Close()
}

// writeTemp 在目标目录下写入临时文件并返回其路径
func writeTemp(abs, content string) (string, error) {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("设置文件权限失败: %w", err)
	}
	return tmpName, nil
}
