package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Milestone — порог реферального счёта и одноразовый бонус за его пересечение.
type Milestone struct {
	Threshold int
	Bonus     int
}

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// BotToken — токен Telegram-бота. WebhookMode=true отключает long-polling:
	// события приходят только через POST /inbound.
	BotToken    string
	WebhookMode bool

	// AdminIDs — общий allowlist админов. TopicAdmins — маршрутизация по теме;
	// пустой список темы означает fallback на общий allowlist.
	AdminIDs    []int64
	EmployerID  int64
	Topics      map[string]string
	TopicAdmins map[string][]int64

	// Milestones отсортированы по возрастанию порога.
	Milestones []Milestone

	RelayInterval time.Duration
	RelayBatch    int
	WizardTimeout time.Duration
	Workers       int

	KafkaBrokers []string
	KafkaTopic   string

	// RedisAddr — если задан, wizard-сессии живут в Redis вместо памяти процесса.
	RedisAddr     string
	RedisPassword string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}
}

// DefaultTopics — темы обращений из меню поддержки.
var DefaultTopics = map[string]string{
	"buyurtma":  "📦 Buyurtma holati",
	"texnik":    "⚙️ Texnik yordam",
	"hamkorlik": "🤝 Hamkorlik",
	"taklif":    "💡 Taklif va shikoyat",
}

// DefaultMilestones — таблица бонусов конкурса.
var DefaultMilestones = []Milestone{
	{5, 2}, {10, 3}, {25, 7}, {50, 10}, {100, 15}, {200, 20},
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:     getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:    firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		BotToken:    getEnv("BOT_TOKEN", ""),
		WebhookMode: getEnv("WEBHOOK_MODE", "") == "true",
		Topics:      DefaultTopics,
	}
	cfg.AdminIDs = parseIDList(getEnv("ADMIN_IDS", ""))
	cfg.EmployerID, _ = strconv.ParseInt(getEnv("EMPLOYER_ID", "0"), 10, 64)
	cfg.TopicAdmins = parseTopicAdmins(getEnv("TOPIC_ADMINS", ""))

	ms, err := parseMilestones(getEnv("MILESTONES", ""))
	if err != nil {
		return nil, fmt.Errorf("config: MILESTONES: %w", err)
	}
	cfg.Milestones = ms

	cfg.RelayInterval = getDuration("RELAY_INTERVAL", 15*time.Second)
	cfg.RelayBatch = getInt("RELAY_BATCH", 10)
	cfg.WizardTimeout = getDuration("WIZARD_TIMEOUT", 5*time.Minute)
	cfg.Workers = getInt("WORKERS", 8)

	cfg.KafkaBrokers = splitList(getEnv("KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")

	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "support_bot")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if len(c.AdminIDs) == 0 {
		return errors.New("config: ADMIN_IDS is required")
	}
	return nil
}

// IsAdmin проверяет вхождение в общий allowlist.
func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

// AdminsForTopic возвращает админов темы, либо общий allowlist если тема не настроена.
func (c *Config) AdminsForTopic(topic string) []int64 {
	if ids := c.TopicAdmins[topic]; len(ids) > 0 {
		return ids
	}
	return c.AdminIDs
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// parseMilestones разбирает "5:2,10:3" в отсортированную таблицу. Пустая строка — дефолты.
func parseMilestones(s string) ([]Milestone, error) {
	if s == "" {
		return DefaultMilestones, nil
	}
	var out []Milestone
	for _, pair := range splitList(s) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad pair %q", pair)
		}
		threshold, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || threshold <= 0 {
			return nil, fmt.Errorf("bad threshold %q", parts[0])
		}
		bonus, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || bonus < 0 {
			return nil, fmt.Errorf("bad bonus %q", parts[1])
		}
		out = append(out, Milestone{Threshold: threshold, Bonus: bonus})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out, nil
}

// parseTopicAdmins разбирает "buyurtma:1|2,texnik:3".
func parseTopicAdmins(s string) map[string][]int64 {
	out := make(map[string][]int64)
	for _, pair := range splitList(s) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		var ids []int64
		for _, t := range strings.Split(parts[1], "|") {
			if id, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			out[strings.TrimSpace(parts[0])] = ids
		}
	}
	return out
}

func parseIDList(s string) []int64 {
	var out []int64
	for _, t := range splitList(s) {
		if id, err := strconv.ParseInt(t, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
