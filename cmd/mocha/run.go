package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/mocha/classfile"
	"github.com/chazu/mocha/classpath"
	"github.com/chazu/mocha/config"
	"github.com/chazu/mocha/vm"
)

// openClasspath chains the configured class directories, the class store
// and the runtime classes, in that order.
func openClasspath(cfg *config.Config) (classpath.Source, func(), error) {
	var chain classpath.Chain
	for _, dir := range cfg.ClassDirPaths() {
		if _, err := os.Stat(dir); err != nil {
			log.Debugf("skipping class directory %s: %v", dir, err)
			continue
		}
		chain = append(chain, classpath.Dir{Root: dir})
	}
	closeFn := func() {}
	if path := cfg.StorePath(); path != "" {
		store, err := classpath.OpenStore(path)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, store)
		closeFn = func() {
			if err := store.Close(); err != nil {
				log.Warningf("closing %s: %v", path, err)
			}
		}
	}
	return chain, closeFn, nil
}

// importClasses copies every encoded class under dir into the store at
// storePath and returns how many it imported.
func importClasses(storePath, dir string) (int, error) {
	if storePath == "" {
		return 0, fmt.Errorf("no class store configured")
	}
	store, err := classpath.OpenStore(storePath)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	n := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, classpath.Extension) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		c, err := classfile.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := store.Put(c); err != nil {
			return err
		}
		log.Debugf("imported %s", c.Name)
		n++
		return nil
	})
	return n, err
}

// preloadClasses loads and initializes classes concurrently, one guest
// thread per class.
func preloadClasses(ctx context.Context, machine *vm.VM, names []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		g.Go(func() error {
			t := machine.NewThread(ctx, "preload-"+name)
			if _, err := machine.InitializeClass(t, name); err != nil {
				return fmt.Errorf("preloading %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

const (
	mainDesc     = "([Ljava/lang/String;)V"
	mainDescNone = "()V"
)

// runMain invokes the static main method of class. main(String[]) is
// preferred; a no-argument main is accepted when there are no arguments.
func runMain(ctx context.Context, machine *vm.VM, class string, args []string) error {
	t := machine.NewThread(ctx, "main")
	jc, err := machine.InitializeClass(t, class)
	if err != nil {
		return err
	}
	c, ok := jc.(*vm.InstanceClass)
	if !ok {
		return fmt.Errorf("%s is not a class", class)
	}

	if m := c.Method("main", mainDesc); m != nil && m.IsStatic() {
		argv, err := stringArray(t, machine, args)
		if err != nil {
			return err
		}
		_, err = machine.InvokeStatic(t, class, "main", mainDesc, vm.Ref(argv))
		return err
	}
	if len(args) > 0 {
		return fmt.Errorf("%s has no main(String[]) to take %d arguments", class, len(args))
	}
	_, err = machine.InvokeStatic(t, class, "main", mainDescNone)
	return err
}

func stringArray(t *vm.Thread, machine *vm.VM, args []string) (*vm.Object, error) {
	jc, err := machine.LoadClass(t, "[Ljava/lang/String;")
	if err != nil {
		return nil, err
	}
	ac := jc.(*vm.ArrayClass)
	mm := machine.Memory()
	arr := mm.NewArray(ac, int32(len(args)))
	for i, arg := range args {
		str, err := machine.Intern(t, arg)
		if err != nil {
			return nil, err
		}
		mm.WriteReference(arr, int64(i)*ac.Scale(), str)
	}
	return arr, nil
}
