package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/updown/pkg/logger"
)

// Service 持久化服务接口
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

func storeKey(prefix, id, tag string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, id, tag)
}

// JSONFileService 基于 JSON 文件的持久化服务
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{
		baseDir: baseDir,
	}
}

// NewStore 创建新的存储
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &JSONFileStore{
		service: s,
		key:     storeKey(prefix, id, tag),
	}
}

// JSONFileStore JSON 文件存储实现
type JSONFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *JSONFileStore) filePath() string {
	// key 形如 "state:<id>:<tag>"，这里做文件名安全化
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

// Save 先写临时文件再 rename，进程中途退出不会留下半个文件
func (s *JSONFileStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

// BadgerService 基于 Badger KV 的持久化服务，值为 JSON
type BadgerService struct {
	db *badger.DB
}

// BadgerOptions EncryptionKey 为 32 字节时启用静态加密
type BadgerOptions struct {
	Path          string
	EncryptionKey []byte
	InMemory      bool
}

// OpenBadger 打开（或创建）Badger 数据库
func OpenBadger(opts BadgerOptions) (*BadgerService, error) {
	if strings.TrimSpace(opts.Path) == "" && !opts.InMemory {
		return nil, errors.New("persistence: badger path is required")
	}
	path := opts.Path
	if opts.InMemory {
		path = ""
	}
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if len(opts.EncryptionKey) > 0 {
		// 加密需要 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("打开 badger 失败: %w", err)
	}
	return &BadgerService{db: db}, nil
}

func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	return &BadgerStore{db: s.db, key: []byte(storeKey(prefix, id, tag))}
}

// BadgerStore 单个 key 的存储
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

func (s *BadgerStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, b)
	})
}

func (s *BadgerStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotExists
	}
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(raw, data)
}

// NewService 按驱动名创建服务；"none" 或空返回 nil
func NewService(driver, dir string) (Service, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none":
		return nil, func() error { return nil }, nil
	case "json":
		return NewJSONFileService(dir), func() error { return nil }, nil
	case "badger":
		svc, err := OpenBadger(BadgerOptions{Path: dir})
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Close, nil
	default:
		return nil, nil, fmt.Errorf("不支持的持久化驱动: %q（支持: badger/json/none）", driver)
	}
}

// LoadFields 加载带 persistence tag 的字段
func LoadFields(obj interface{}, id string, service Service) error {
	return iterateFieldsByTag(obj, "persistence", true, func(
		tag string, field reflect.StructField, value reflect.Value,
	) error {
		logger.Debugf("[LoadFields] loading field %s, tag=%s", field.Name, tag)

		// 创建新值
		newValueInf := newTypeValueInterface(value.Type())

		// 加载数据
		store := service.NewStore("state", id, tag)
		if err := store.Load(&newValueInf); err != nil {
			if errors.Is(err, ErrNotExists) {
				logger.Debugf("[LoadFields] state key does not exist, id=%s, tag=%s", id, tag)
				return nil
			}
			return err
		}

		// 设置值
		newValue := reflect.ValueOf(newValueInf)
		if value.Kind() != reflect.Ptr && newValue.Kind() == reflect.Ptr {
			newValue = newValue.Elem()
		}

		logger.Debugf("[LoadFields] %s = %v -> %v", field.Name, value, newValue)
		value.Set(newValue)
		return nil
	})
}

// SaveFields 保存带 persistence tag 的字段
func SaveFields(obj interface{}, id string, service Service) error {
	return iterateFieldsByTag(obj, "persistence", true, func(
		tag string, ft reflect.StructField, fv reflect.Value,
	) error {
		logger.Debugf("[SaveFields] storing field %s, tag=%s", ft.Name, tag)

		inf := fv.Interface()
		store := service.NewStore("state", id, tag)
		return store.Save(inf)
	})
}

// iterateFieldsByTag 遍历结构体字段，查找指定 tag
func iterateFieldsByTag(obj interface{}, tagName string, includeNested bool, fn func(tag string, field reflect.StructField, value reflect.Value) error) error {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return fmt.Errorf("object must be a struct or pointer to struct")
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		// 跳过未导出的字段
		if !value.CanSet() {
			continue
		}

		// 检查 tag
		tag := field.Tag.Get(tagName)
		if tag == "" || tag == "-" {
			if includeNested && value.Kind() == reflect.Struct {
				// 递归处理嵌套结构
				if err := iterateFieldsByTag(value.Addr().Interface(), tagName, includeNested, fn); err != nil {
					return err
				}
			}
			continue
		}

		// 处理 tag 值（可能包含选项，如 "tag,option"）
		tagParts := strings.Split(tag, ",")
		tagValue := tagParts[0]

		// 调用回调函数
		if err := fn(tagValue, field, value); err != nil {
			return err
		}
	}

	return nil
}

// newTypeValueInterface 创建指定类型的新值
func newTypeValueInterface(typ reflect.Type) interface{} {
	if typ.Kind() == reflect.Ptr {
		return reflect.New(typ.Elem()).Interface()
	}
	return reflect.New(typ).Interface()
}

