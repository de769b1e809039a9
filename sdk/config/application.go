package config

// Application 应用程序配置
type Application struct {
	Mode string `mapstructure:"mode" json:"mode"` // dev, test, prod
	Name string `mapstructure:"name" json:"name"` // 服务名称，用作指标命名空间
}

// SetDefaults 填充默认值
func (a *Application) SetDefaults() {
	if a.Mode == "" {
		a.Mode = "dev"
	}
	if a.Name == "" {
		a.Name = "jxt_iot"
	}
}

var ApplicationConfig = new(Application)
