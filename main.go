package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/any-hub/objcache/internal/cache"
	"github.com/any-hub/objcache/internal/config"
	"github.com/any-hub/objcache/internal/logging"
	"github.com/any-hub/objcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	command     string
	args        []string
}

// 退出码：0 成功，1 运行失败，2 用法错误，3 key 不存在。
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitAbsent  = 3
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr

	// dirRegistry 返回打开缓存时使用的目录登记表，测试中替换为独立实例。
	dirRegistry = cache.DefaultRegistry
)

func main() {
	_ = godotenv.Load()

	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(exitUsage)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return exitOK
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return exitFailure
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return exitFailure
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["max_size"] = cfg.Global.MaxSize.Int64()
		fields["codec"] = cfg.Global.Codec
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return exitOK
	}

	cmd, ok := commands[opts.command]
	if !ok {
		fmt.Fprintf(stdErr, "未知命令: %q\n%s", opts.command, usage)
		return exitUsage
	}
	if len(opts.args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(opts.args) > cmd.maxArgs) {
		fmt.Fprintf(stdErr, "参数数量错误: %s\n%s", opts.command, usage)
		return exitUsage
	}

	codec, err := cache.CodecByName(cfg.Global.Codec)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化编码失败: %v\n", err)
		return exitFailure
	}

	store, err := cache.Open[string](cache.Options{
		Directory:     cfg.Global.StoragePath,
		SchemaVersion: cfg.Global.SchemaVersion,
		MaxBytes:      cfg.Global.MaxSize.Int64(),
		Codec:         codec,
		Registry:      dirRegistry(),
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "打开缓存失败: %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("关闭缓存失败")
		}
	}()

	fields := logging.BaseFields(opts.command, opts.configPath)
	fields["version"] = version.Full()
	logger.WithFields(fields).Debug("执行命令")

	return cmd.run(store, opts.args)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("objcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OBJCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OBJCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	opts := cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}
	if rest := fs.Args(); len(rest) > 0 {
		opts.command = rest[0]
		opts.args = rest[1:]
	}
	if opts.command == "" && !checkOnly && !showVer {
		return cliOptions{}, fmt.Errorf("缺少命令\n%s", usage)
	}
	return opts, nil
}
