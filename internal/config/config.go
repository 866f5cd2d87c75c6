package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coastal-risk/infra-access/internal/asset"
	"github.com/coastal-risk/infra-access/internal/geo"
)

// Config holds the full application configuration. Both the accessibility
// and aggregation stages read districts and categories from here.
type Config struct {
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Districts  []string         `yaml:"districts" mapstructure:"districts"`
	Categories []asset.Category `yaml:"categories" mapstructure:"categories"`
	Polders    PoldersConfig    `yaml:"polders" mapstructure:"polders"`
	Households HouseholdsConfig `yaml:"households" mapstructure:"households"`
	Wealth     WealthConfig     `yaml:"wealth" mapstructure:"wealth"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates inputs and outputs. Relative entries resolve against
// Base; category and polder layer paths resolve against Incoming.
type PathsConfig struct {
	Base       string `yaml:"base" mapstructure:"base"`
	Incoming   string `yaml:"incoming" mapstructure:"incoming"`
	Households string `yaml:"households" mapstructure:"households"`
	Access     string `yaml:"access" mapstructure:"access"`
	Wealth     string `yaml:"wealth" mapstructure:"wealth"`
	Results    string `yaml:"results" mapstructure:"results"`
}

// PoldersConfig points at the embankment polygon layer.
type PoldersConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	Layer   string `yaml:"layer" mapstructure:"layer"`
	IDField string `yaml:"id_field" mapstructure:"id_field"`
	Proj4   string `yaml:"proj4" mapstructure:"proj4"`
}

// HouseholdsConfig describes the household coordinate frame. An empty Proj4
// means Long/Lat are already WGS84 degrees.
type HouseholdsConfig struct {
	Proj4 string `yaml:"proj4" mapstructure:"proj4"`
}

// WealthConfig holds the ordered wealth band labels.
type WealthConfig struct {
	Labels []string `yaml:"labels" mapstructure:"labels"`
}

// OutputConfig configures the aggregated asset layers.
type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Layer  string `yaml:"layer" mapstructure:"layer"`
}

// RunConfig configures execution.
type RunConfig struct {
	Concurrency  int  `yaml:"concurrency" mapstructure:"concurrency"`
	AllowPartial bool `yaml:"allow_partial" mapstructure:"allow_partial"`
}

// StoreConfig configures the run log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WealthBands is the number of wealth labels the aggregation expects.
const WealthBands = 5

// DefaultDistricts are the coastal districts with synthetic household data.
var DefaultDistricts = []string{
	"Noakhali", "Khulna", "Barisal", "Satkhira", "Bhola", "Bagerhat", "Patuakhali",
	"Barguna", "Pirojpur", "Jhalokati", "Narail", "Chittagong", "Jessore", "Chandpur",
	"Coxs_Bazar", "Lakshmipur", "Feni", "Shariatpur", "Gopalganj",
}

// DefaultCategories are the infrastructure categories, in linkage column
// order. Paths are relative to paths.incoming.
var DefaultCategories = []asset.Category{
	{Name: "Hospitals", Key: "hospital", Path: "critical_infra/cegis_buildings/Hospitals/Hospitals.shp", Output: "hospital_households.gpkg", Aggregate: true},
	{Name: "Health facilities", Key: "health", Path: "critical_infra/cegis_buildings/Health_facilities/Health_Facilities.shp", Output: "health_households.gpkg", Aggregate: true},
	{Name: "Education facilities", Key: "edu", Path: "critical_infra/bgd_poi_educationfacilities_lged/bgd_poi_educationfacilities_lged.shp", Output: "education_households.gpkg", Aggregate: true},
	{Name: "Cyclone shelters", Key: "shelter", Path: "critical_infra/Shelters/cyclone_shelters.shp", Output: "shelter_households.gpkg", Aggregate: true},
	{Name: "Embankment points", Key: "embank", Path: "critical_infra/Embankments/embankment_points.gpkg"},
	{Name: "Growth centres", Key: "growth", Path: "critical_infra/Growth_centre_locations/G_Centre_BTM.shp", Output: "growth_centre_households.gpkg", Aggregate: true, Proj4: geo.BTMDef},
	{Name: "Electricity substations", Key: "substation", Path: "energy/cegis_energy/Electricity/Existing_Sub_station.shp", Output: "electricity_substation_households.gpkg", Aggregate: true, ElectrifiedOnly: true},
	{Name: "Railway stations", Key: "railstation", Path: "transport/cegis_transport/Railway/Railway_Stations.shp", Output: "railstation_households.gpkg", Aggregate: true},
	{Name: "Road nodes", Key: "roadnode", Path: "transport/osm_road_corrected/osm_road_nodes_corrected.gpkg", Output: "roadnode_households.gpkg", Aggregate: true},
}

func categoryDefaults() []map[string]any {
	out := make([]map[string]any, len(DefaultCategories))
	for i, c := range DefaultCategories {
		out[i] = map[string]any{
			"name":             c.Name,
			"key":              c.Key,
			"path":             c.Path,
			"layer":            c.Layer,
			"output":           c.Output,
			"aggregate":        c.Aggregate,
			"electrified_only": c.ElectrifiedOnly,
			"proj4":            c.Proj4,
		}
	}
	return out
}

// Load reads configuration from ./config.yaml (if present) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from file, or from ./config.yaml when file is
// empty. Environment variables (INFRA_ prefix) override both.
func LoadFile(file string) (*Config, error) {
	v := viper.New()

	// Config file
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("INFRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.base", "")
	v.SetDefault("paths.incoming", "incoming")
	v.SetDefault("paths.households", "incoming/Population/WB_household_data_jasper/Household_data/Synthetic_data_coded")
	v.SetDefault("paths.wealth", "incoming/Population/WB_household_data_jasper/Wealth_index/Wealth_index")
	v.SetDefault("paths.access", "data/household_asset_analysis/Infra_access")
	v.SetDefault("paths.results", "data/household_asset_analysis/assets_with_hh")
	v.SetDefault("districts", DefaultDistricts)
	v.SetDefault("categories", categoryDefaults())
	v.SetDefault("polders.path", "critical_infra/Embankments/Polder_boundary.shp")
	v.SetDefault("polders.layer", "")
	v.SetDefault("polders.id_field", "Polder no.")
	v.SetDefault("polders.proj4", "")
	v.SetDefault("households.proj4", geo.WorldMercatorDef)
	v.SetDefault("wealth.labels", []string{"Q1", "Q2", "Q3", "Q4", "Q5"})
	v.SetDefault("output.format", "gpkg")
	v.SetDefault("output.layer", "nodes")
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.allow_partial", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "infra-access.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a stage needs. Mode is "access",
// "aggregate", or "" for the settings shared by every command.
func (c *Config) Validate(mode string) error {
	var errs []string

	if len(c.Districts) == 0 {
		errs = append(errs, "districts must not be empty")
	}
	if len(c.Categories) == 0 {
		errs = append(errs, "categories must not be empty")
	}
	seen := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		switch {
		case cat.Key == "":
			errs = append(errs, fmt.Sprintf("categories[%d].key is required", i))
		case seen[cat.Key]:
			errs = append(errs, fmt.Sprintf("categories[%d].key %q is duplicated", i, cat.Key))
		}
		seen[cat.Key] = true
		if cat.Path == "" {
			errs = append(errs, fmt.Sprintf("categories[%d].path is required", i))
		}
		if _, err := geo.NewProjector(cat.Proj4); err != nil {
			errs = append(errs, fmt.Sprintf("categories[%d].proj4 is invalid: %v", i, err))
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Run.Concurrency < 0 {
		errs = append(errs, "run.concurrency must not be negative")
	}

	switch mode {
	case "access":
		if c.Paths.Households == "" {
			errs = append(errs, "paths.households is required")
		}
		if c.Paths.Access == "" {
			errs = append(errs, "paths.access is required")
		}
		if c.Polders.Path != "" && c.Polders.IDField == "" {
			errs = append(errs, "polders.id_field is required with polders.path")
		}
		if _, err := geo.NewProjector(c.Polders.Proj4); err != nil {
			errs = append(errs, fmt.Sprintf("polders.proj4 is invalid: %v", err))
		}
	case "aggregate":
		if c.Paths.Access == "" {
			errs = append(errs, "paths.access is required")
		}
		if c.Paths.Wealth == "" {
			errs = append(errs, "paths.wealth is required")
		}
		if c.Paths.Results == "" {
			errs = append(errs, "paths.results is required")
		}
		if len(c.Wealth.Labels) != WealthBands {
			errs = append(errs, fmt.Sprintf("wealth.labels must have %d entries, got %d", WealthBands, len(c.Wealth.Labels)))
		}
		labels := make(map[string]bool, len(c.Wealth.Labels))
		for _, l := range c.Wealth.Labels {
			if labels[l] {
				errs = append(errs, fmt.Sprintf("wealth.labels %q is duplicated", l))
			}
			labels[l] = true
		}
		switch strings.ToLower(c.Output.Format) {
		case "gpkg", "geojson":
		default:
			errs = append(errs, fmt.Sprintf("output.format %q must be gpkg or geojson", c.Output.Format))
		}
		if c.Output.Layer == "" {
			errs = append(errs, "output.layer is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Resolve joins a relative path onto paths.base.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Paths.Base == "" {
		return path
	}
	return filepath.Join(c.Paths.Base, path)
}

// IncomingDir is the directory category and polder layers resolve against.
func (c *Config) IncomingDir() string { return c.Resolve(c.Paths.Incoming) }

// HouseholdsDir holds <origin>_<district>.csv.
func (c *Config) HouseholdsDir() string { return c.Resolve(c.Paths.Households) }

// AccessDir holds the linkage tables.
func (c *Config) AccessDir() string { return c.Resolve(c.Paths.Access) }

// WealthDir holds <origin>_PCA_households.csv.
func (c *Config) WealthDir() string { return c.Resolve(c.Paths.Wealth) }

// ResultsDir receives the aggregated asset layers.
func (c *Config) ResultsDir() string { return c.Resolve(c.Paths.Results) }

// PolderPath is the resolved polder layer path, empty when polders are
// not configured.
func (c *Config) PolderPath() string {
	return asset.Resolve(c.IncomingDir(), c.Polders.Path)
}

// Category returns the configured category with key.
func (c *Config) Category(key string) (asset.Category, bool) {
	for _, cat := range c.Categories {
		if cat.Key == key {
			return cat, true
		}
	}
	return asset.Category{}, false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
